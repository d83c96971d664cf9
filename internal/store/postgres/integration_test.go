//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/emperorhan/verification-registry/internal/store/postgres"
)

// Postgres keeps microseconds; comparisons use truncated UTC times.
func ts(offset time.Duration) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// ---------- RequestRepo ----------

func TestRequestRepo_SaveGetDelete(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewRequestRepo(db)
	ctx := context.Background()

	req := &model.VerificationRequest{
		ID:               uniq("vr"),
		ContentID:        uniq("content"),
		ContentHash:      "abcd",
		ContentType:      model.ContentTypeText,
		VerificationType: model.VerificationTypeAuthenticity,
		Metadata:         map[string]any{"source": "cms"},
		Requester:        "system",
		Network:          model.NetworkEthereum,
		Timestamp:        ts(0),
	}
	require.NoError(t, repo.Save(ctx, req))

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ContentID, got.ContentID)
	assert.Equal(t, model.VerificationTypeAuthenticity, got.VerificationType)
	assert.Equal(t, "cms", got.Metadata["source"])
	assert.True(t, req.Timestamp.Equal(got.Timestamp))

	_, err = repo.Get(ctx, "vr-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	deleted, err := repo.DeleteOlderThan(ctx, ts(0))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, 1)

	_, err = repo.Get(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ---------- ResultRepo ----------

func TestResultRepo_UpsertAndHistory(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewResultRepo(db)
	ctx := context.Background()
	contentID := uniq("content")

	first := &model.VerificationResult{
		RequestID:        uniq("vr"),
		ContentID:        contentID,
		Status:           model.StatusFailed,
		VerificationHash: "h1",
		BlockchainTx:     "0x01",
		Confidence:       0.2,
		Evidence: []model.VerificationEvidence{
			{Type: model.EvidenceBlockchainTransaction, Source: "ethereum", Timestamp: ts(0), Confidence: 0.2},
		},
		Timestamp: ts(0),
	}
	require.NoError(t, repo.Save(ctx, first))

	first.Status = model.StatusVerified
	first.Confidence = 0.8
	require.NoError(t, repo.Save(ctx, first))

	second := &model.VerificationResult{
		RequestID:  uniq("vr"),
		ContentID:  contentID,
		Status:     model.StatusVerified,
		Confidence: 0.9,
		Timestamp:  ts(time.Minute),
	}
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Get(ctx, first.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, got.Status)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, model.EvidenceBlockchainTransaction, got.Evidence[0].Type)

	history, err := repo.ListByContent(ctx, contentID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.RequestID, history[0].RequestID)
	assert.NotNil(t, history[0].Evidence)
}

// ---------- ProvenanceRepo ----------

func TestProvenanceRepo_AppendOrderAndLast(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewProvenanceRepo(db)
	ctx := context.Background()
	contentID := uniq("content")

	_, err := repo.Last(ctx, contentID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var ids []string
	prev := ""
	for i, action := range []model.ProvenanceAction{model.ProvenanceCreate, model.ProvenanceModify, model.ProvenanceVerify} {
		rec := &model.ProvenanceRecord{
			ID:               "pr_" + uuid.NewString(),
			ContentID:        contentID,
			Action:           action,
			Actor:            "alice",
			DataHash:         "h",
			PreviousRecordID: prev,
			Timestamp:        ts(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Append(ctx, rec))
		ids = append(ids, rec.ID)
		prev = rec.ID
	}

	chain, err := repo.List(ctx, contentID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, rec := range chain {
		assert.Equal(t, ids[i], rec.ID)
	}
	assert.Equal(t, ids[1], chain[2].PreviousRecordID)

	last, err := repo.Last(ctx, contentID)
	require.NoError(t, err)
	assert.Equal(t, ids[2], last.ID)

	empty, err := repo.List(ctx, uniq("none"))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

// ---------- ReputationRepo ----------

func TestReputationRepo_Upsert(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewReputationRepo(db)
	ctx := context.Background()
	entity := uniq("entity")

	_, err := repo.Get(ctx, entity)
	assert.ErrorIs(t, err, store.ErrNotFound)

	score := model.NeutralScore(entity)
	score.Apply(1, ts(0))
	require.NoError(t, repo.Save(ctx, &score))
	score.Apply(1, ts(time.Second))
	require.NoError(t, repo.Save(ctx, &score))

	got, err := repo.Get(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, 52.0, got.Score)
	assert.Equal(t, 2, got.PositiveEvidence)
	assert.InDelta(t, 0.02, got.Confidence, 1e-9)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

// ---------- ContractRepo ----------

func TestContractRepo_SaveGet(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewContractRepo(db)
	ctx := context.Background()

	c := &model.VerificationSmartContract{
		Address:    "0x" + uuid.NewString()[:8],
		Network:    model.NetworkArbitrum,
		ABI:        []string{"function verify(bytes32 hash)", "event Verified(bytes32 hash)"},
		DeployedAt: ts(0),
		Version:    "1.2.0",
	}
	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.Get(ctx, model.NetworkArbitrum)
	require.NoError(t, err)
	assert.Equal(t, c.Address, got.Address)
	assert.Equal(t, c.ABI, got.ABI)
	assert.Equal(t, "1.2.0", got.Version)

	_, err = repo.Get(ctx, "unknown-net")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var before int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&before))
	assert.GreaterOrEqual(t, before, 2)

	require.NoError(t, db.RunMigrations(ctx, migrationsDir()))

	var after int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&after))
	assert.Equal(t, before, after)
}

// ---------- Transactor ----------

func TestTransactor_RollsBackOnError(t *testing.T) {
	db := testDB(t)
	repos := postgres.NewRepos(db)
	ctx := context.Background()
	id := uniq("req")
	contentID := uniq("content")

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Repos) error {
		require.NoError(t, tx.Requests.Save(ctx, &model.VerificationRequest{
			ID: id, ContentID: contentID, ContentHash: "h", ContentType: model.ContentTypeText,
			VerificationType: model.VerificationTypeAuthenticity, Requester: "system",
			Network: model.NetworkEthereum, Timestamp: ts(0),
		}))
		require.NoError(t, tx.Provenance.Append(ctx, &model.ProvenanceRecord{
			ID: "pr_" + uuid.NewString(), ContentID: contentID, Action: model.ProvenanceVerify,
			Actor: "system", DataHash: "h", Timestamp: ts(0),
		}))
		return errors.New("reputation write failed")
	})
	require.Error(t, err)

	_, err = repos.Requests.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repos.Provenance.Last(ctx, contentID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	db := testDB(t)
	repos := postgres.NewRepos(db)
	ctx := context.Background()
	entity := uniq("entity")

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Repos) error {
		score := model.NeutralScore(entity)
		score.Apply(1, ts(0))
		return tx.Reputation.Save(ctx, &score)
	})
	require.NoError(t, err)

	got, err := repos.Reputation.Get(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, 51.0, got.Score)

	require.NoError(t, repos.Reputation.Delete(ctx, entity))
	_, err = repos.Reputation.Get(ctx, entity)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
