package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/verification-registry/internal/store"
	storemocks "github.com/emperorhan/verification-registry/internal/store/mocks"
)

func TestTransactor_BeginFailureSkipsWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	beginner := storemocks.NewMockTxBeginner(ctrl)
	beginner.EXPECT().
		BeginTx(gomock.Any(), gomock.Nil()).
		Return(nil, errors.New("too many connections")).
		Times(1)

	called := false
	err := NewTransactor(beginner).WithinTx(context.Background(), func(context.Context, store.Repos) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.False(t, called)
}
