package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Transactor runs fn against repositories whose writes are applied together
// or not at all. The repositories passed to fn must not be used after fn
// returns.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

// RequestRepository provides access to verification requests.
type RequestRepository interface {
	Save(ctx context.Context, req *model.VerificationRequest) error
	Get(ctx context.Context, id string) (*model.VerificationRequest, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	// DeleteOlderThan removes requests whose timestamp is at or before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ResultRepository provides access to verification results, at most one per request.
type ResultRepository interface {
	// Save inserts or replaces the result for res.RequestID.
	Save(ctx context.Context, res *model.VerificationResult) error
	Get(ctx context.Context, requestID string) (*model.VerificationResult, error)
	List(ctx context.Context) ([]model.VerificationResult, error)
	ListByContent(ctx context.Context, contentID string) ([]model.VerificationResult, error)
	Delete(ctx context.Context, requestID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ProvenanceRepository is an append-only per-content log. Records are never
// updated; Remove exists only to take back an append whose transaction
// failed.
type ProvenanceRepository interface {
	Append(ctx context.Context, rec *model.ProvenanceRecord) error
	Remove(ctx context.Context, contentID, recordID string) error
	// List returns records oldest first; an unknown content id yields an empty slice.
	List(ctx context.Context, contentID string) ([]model.ProvenanceRecord, error)
	Last(ctx context.Context, contentID string) (*model.ProvenanceRecord, error)
}

// ReputationRepository provides access to stored reputation scores.
type ReputationRepository interface {
	Get(ctx context.Context, entityID string) (*model.ReputationScore, error)
	Save(ctx context.Context, score *model.ReputationScore) error
	Delete(ctx context.Context, entityID string) error
	List(ctx context.Context) ([]model.ReputationScore, error)
	Count(ctx context.Context) (int, error)
}

// ContractRepository provides access to smart contract descriptors keyed by network.
type ContractRepository interface {
	Save(ctx context.Context, c *model.VerificationSmartContract) error
	Get(ctx context.Context, network model.Network) (*model.VerificationSmartContract, error)
}

// Repos bundles every repository the registry depends on. Tx is optional;
// backends without native transactions leave it nil and get Compensating.
type Repos struct {
	Requests   RequestRepository
	Results    ResultRepository
	Provenance ProvenanceRepository
	Reputation ReputationRepository
	Contracts  ContractRepository
	Tx         Transactor
}

// Transactor returns repos.Tx, or a Compensating transactor over repos when
// the backend has none.
func (repos Repos) Transactor() Transactor {
	if repos.Tx != nil {
		return repos.Tx
	}
	return Compensating(repos)
}
