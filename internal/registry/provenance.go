package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/store"
)

var provenanceActions = map[model.ProvenanceAction]bool{
	model.ProvenanceCreate:   true,
	model.ProvenanceModify:   true,
	model.ProvenanceTransfer: true,
	model.ProvenanceVerify:   true,
}

// AddProvenanceRecord appends rec to its content's chain. ID and Timestamp
// are assigned when empty, and an empty PreviousRecordID links to the
// current tail of the chain.
func (r *Registry) AddProvenanceRecord(ctx context.Context, rec model.ProvenanceRecord) (*model.ProvenanceRecord, error) {
	if rec.ContentID == "" {
		return nil, fmt.Errorf("%w: content_id is required", ErrInvalidRequest)
	}
	if !provenanceActions[rec.Action] {
		return nil, fmt.Errorf("%w: unknown provenance action %q", ErrInvalidRequest, rec.Action)
	}

	var fx effects
	r.mu.Lock()
	out, err := r.appendProvenanceLocked(ctx, r.repos, rec, &fx)
	r.mu.Unlock()
	r.deliver(ctx, &fx)
	return out, err
}

func (r *Registry) appendProvenanceLocked(ctx context.Context, repos store.Repos, rec model.ProvenanceRecord, fx *effects) (*model.ProvenanceRecord, error) {
	if rec.ID == "" {
		rec.ID = "pr_" + uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if rec.PreviousRecordID == "" {
		last, err := repos.Provenance.Last(ctx, rec.ContentID)
		switch {
		case err == nil:
			rec.PreviousRecordID = last.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("load provenance tail for %s: %w", rec.ContentID, err)
		}
	}

	if err := repos.Provenance.Append(ctx, &rec); err != nil {
		return nil, fmt.Errorf("append provenance for %s: %w", rec.ContentID, err)
	}

	metrics.ProvenanceRecordsTotal.WithLabelValues(string(rec.Action)).Inc()
	fx.event(Event{
		Type:       EventProvenanceAppended,
		ContentID:  rec.ContentID,
		OccurredAt: rec.Timestamp,
		Payload:    rec,
	})
	return &rec, nil
}

// GetProvenance returns the chain for contentID, oldest first. Unknown
// content yields an empty chain.
func (r *Registry) GetProvenance(ctx context.Context, contentID string) ([]model.ProvenanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.repos.Provenance.List(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("list provenance for %s: %w", contentID, err)
	}
	if records == nil {
		records = []model.ProvenanceRecord{}
	}
	return records, nil
}

// VerifyProvenanceChain reports ErrBrokenChain when any record does not
// point at the record appended before it.
func (r *Registry) VerifyProvenanceChain(ctx context.Context, contentID string) error {
	records, err := r.GetProvenance(ctx, contentID)
	if err != nil {
		return err
	}
	prev := ""
	for i, rec := range records {
		if rec.ContentID != contentID {
			return fmt.Errorf("%w: record %d (%s) belongs to %s", ErrBrokenChain, i, rec.ID, rec.ContentID)
		}
		if rec.PreviousRecordID != prev {
			return fmt.Errorf("%w: record %d (%s) links to %q, want %q", ErrBrokenChain, i, rec.ID, rec.PreviousRecordID, prev)
		}
		prev = rec.ID
	}
	return nil
}
