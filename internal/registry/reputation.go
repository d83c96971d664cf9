package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/store"
)

// GetReputation returns the score for entityID. Entities that were never
// scored get a neutral score, which is not stored.
func (r *Registry) GetReputation(ctx context.Context, entityID string) (model.ReputationScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reputationLocked(ctx, r.repos, entityID)
}

func (r *Registry) reputationLocked(ctx context.Context, repos store.Repos, entityID string) (model.ReputationScore, error) {
	score, err := repos.Reputation.Get(ctx, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NeutralScore(entityID), nil
	}
	if err != nil {
		return model.ReputationScore{}, fmt.Errorf("load reputation %s: %w", entityID, err)
	}
	return *score, nil
}

func (r *Registry) updateReputationLocked(ctx context.Context, repos store.Repos, entityID string, evidence float64, fx *effects) (model.ReputationScore, error) {
	score, err := r.reputationLocked(ctx, repos, entityID)
	if err != nil {
		return score, err
	}
	before := score.Score
	score.Apply(evidence, r.now())
	if err := repos.Reputation.Save(ctx, &score); err != nil {
		return score, fmt.Errorf("save reputation %s: %w", entityID, err)
	}

	direction := "negative"
	if evidence > 0 {
		direction = "positive"
	}
	metrics.ReputationUpdatesTotal.WithLabelValues(direction).Inc()
	fx.event(Event{
		Type:       EventReputationChanged,
		ContentID:  entityID,
		OccurredAt: score.LastUpdated,
		Payload:    score,
	})

	if r.alertFloor > 0 && score.Score < r.alertFloor {
		fx.alert(alert.Alert{
			Type:    alert.AlertTypeReputationLow,
			Subject: entityID,
			Title:   "Reputation below floor",
			Message: fmt.Sprintf("%s reputation dropped to %.1f", entityID, score.Score),
			Fields: map[string]string{
				"entity":   entityID,
				"score":    strconv.FormatFloat(score.Score, 'f', 1, 64),
				"previous": strconv.FormatFloat(before, 'f', 1, 64),
				"floor":    strconv.FormatFloat(r.alertFloor, 'f', 1, 64),
			},
		})
	}
	return score, nil
}
