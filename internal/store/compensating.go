package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emperorhan/verification-registry/internal/domain/model"
)

// Compensating returns a Transactor for backends without native
// transactions. Every single-record write made through the tx repositories
// records its inverse; when fn fails the inverses run newest first.
// Bulk deletes and contract writes pass through uncompensated. Transactions
// are serialised with each other but not isolated from writes made outside
// them.
func Compensating(repos Repos) Transactor {
	repos.Tx = nil
	return &compensating{repos: repos}
}

type compensating struct {
	mu    sync.Mutex
	repos Repos
}

type undoLog struct {
	steps []func(ctx context.Context) error
}

func (l *undoLog) push(step func(ctx context.Context) error) {
	l.steps = append(l.steps, step)
}

// rollback runs every step even when one fails and joins the failures.
func (l *undoLog) rollback(ctx context.Context) error {
	var errs []error
	for i := len(l.steps) - 1; i >= 0; i-- {
		if err := l.steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *compensating) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := &undoLog{}
	tx := Repos{
		Requests:   &undoRequests{RequestRepository: c.repos.Requests, log: log},
		Results:    &undoResults{ResultRepository: c.repos.Results, log: log},
		Provenance: &undoProvenance{ProvenanceRepository: c.repos.Provenance, log: log},
		Reputation: &undoReputation{ReputationRepository: c.repos.Reputation, log: log},
		Contracts:  c.repos.Contracts,
	}
	err := fn(ctx, tx)
	if err == nil {
		return nil
	}
	// The caller's ctx may be what failed; the undo must still run.
	if rbErr := log.rollback(context.WithoutCancel(ctx)); rbErr != nil {
		return errors.Join(err, fmt.Errorf("roll back: %w", rbErr))
	}
	return err
}

type undoRequests struct {
	RequestRepository
	log *undoLog
}

func (r *undoRequests) Save(ctx context.Context, req *model.VerificationRequest) error {
	if err := r.RequestRepository.Save(ctx, req); err != nil {
		return err
	}
	id := req.ID
	r.log.push(func(ctx context.Context) error {
		return r.RequestRepository.Delete(ctx, id)
	})
	return nil
}

type undoResults struct {
	ResultRepository
	log *undoLog
}

func (r *undoResults) Save(ctx context.Context, res *model.VerificationResult) error {
	prior, err := r.ResultRepository.Get(ctx, res.RequestID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load prior result: %w", err)
	}
	if err := r.ResultRepository.Save(ctx, res); err != nil {
		return err
	}
	id := res.RequestID
	r.log.push(func(ctx context.Context) error {
		if prior != nil {
			return r.ResultRepository.Save(ctx, prior)
		}
		return r.ResultRepository.Delete(ctx, id)
	})
	return nil
}

type undoProvenance struct {
	ProvenanceRepository
	log *undoLog
}

func (r *undoProvenance) Append(ctx context.Context, rec *model.ProvenanceRecord) error {
	if err := r.ProvenanceRepository.Append(ctx, rec); err != nil {
		return err
	}
	contentID, id := rec.ContentID, rec.ID
	r.log.push(func(ctx context.Context) error {
		return r.ProvenanceRepository.Remove(ctx, contentID, id)
	})
	return nil
}

type undoReputation struct {
	ReputationRepository
	log *undoLog
}

func (r *undoReputation) Save(ctx context.Context, score *model.ReputationScore) error {
	prior, err := r.ReputationRepository.Get(ctx, score.EntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load prior reputation: %w", err)
	}
	if err := r.ReputationRepository.Save(ctx, score); err != nil {
		return err
	}
	id := score.EntityID
	r.log.push(func(ctx context.Context) error {
		if prior != nil {
			return r.ReputationRepository.Save(ctx, prior)
		}
		return r.ReputationRepository.Delete(ctx, id)
	})
	return nil
}
