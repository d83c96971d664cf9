package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/emperorhan/verification-registry/internal/tracing"
)

const topEvidenceTypes = 5

// Stats summarises the registry's current contents.
type Stats struct {
	TotalRequests     int     `json:"total_requests"`
	Verified          int     `json:"verified"`
	Failed            int     `json:"failed"`
	Pending           int     `json:"pending"`
	AverageConfidence float64 `json:"average_confidence"`
	ReputationEntries int     `json:"reputation_entries"`
}

// TimeRange is an inclusive [Start, End] window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (tr *TimeRange) contains(t time.Time) bool {
	if tr == nil {
		return true
	}
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// ReportFilter narrows a report. Zero fields match everything.
type ReportFilter struct {
	ContentID string     `json:"content_id,omitempty"`
	Timeframe *TimeRange `json:"timeframe,omitempty"`
}

type EvidenceTypeCount struct {
	Type  model.EvidenceType `json:"type"`
	Count int                `json:"count"`
}

// ReputationImpact counts scored entities relative to the neutral score.
type ReputationImpact struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type Report struct {
	Filter             ReportFilter        `json:"filter"`
	TotalVerifications int                 `json:"total_verifications"`
	SuccessRate        float64             `json:"success_rate"`
	AverageConfidence  float64             `json:"average_confidence"`
	TopEvidenceTypes   []EvidenceTypeCount `json:"top_evidence_types"`
	ReputationImpact   ReputationImpact    `json:"reputation_impact"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// CleanupResult reports what CleanupOldData removed.
type CleanupResult struct {
	Cutoff          time.Time `json:"cutoff"`
	RequestsDeleted int       `json:"requests_deleted"`
	ResultsDeleted  int       `json:"results_deleted"`
}

// GetStats counts requests and results. Pending is total requests minus
// total results; it goes negative once cleanup has removed requests whose
// results are still newer than the cutoff.
func (r *Registry) GetStats(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total, err := r.repos.Requests.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count requests: %w", err)
	}
	results, err := r.repos.Results.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list results: %w", err)
	}
	entries, err := r.repos.Reputation.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count reputation: %w", err)
	}

	s := Stats{
		TotalRequests:     total,
		Pending:           total - len(results),
		ReputationEntries: entries,
	}
	var sum float64
	for _, res := range results {
		switch res.Status {
		case model.StatusVerified:
			s.Verified++
		case model.StatusFailed:
			s.Failed++
		}
		sum += res.Confidence
	}
	if len(results) > 0 {
		s.AverageConfidence = sum / float64(len(results))
	}
	return s, nil
}

// GenerateVerificationReport aggregates the results matching filter.
func (r *Registry) GenerateVerificationReport(ctx context.Context, filter ReportFilter) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		results []model.VerificationResult
		err     error
	)
	if filter.ContentID != "" {
		results, err = r.repos.Results.ListByContent(ctx, filter.ContentID)
	} else {
		results, err = r.repos.Results.List(ctx)
	}
	if err != nil {
		return Report{}, fmt.Errorf("list results: %w", err)
	}

	report := Report{
		Filter:           filter,
		TopEvidenceTypes: []EvidenceTypeCount{},
		GeneratedAt:      r.now(),
	}
	var (
		verified      int
		confidenceSum float64
	)
	evidenceCounts := make(map[model.EvidenceType]int)
	for _, res := range results {
		if !filter.Timeframe.contains(res.Timestamp) {
			continue
		}
		report.TotalVerifications++
		if res.Status == model.StatusVerified {
			verified++
		}
		confidenceSum += res.Confidence
		for _, ev := range res.Evidence {
			evidenceCounts[ev.Type]++
		}
	}
	if report.TotalVerifications > 0 {
		report.SuccessRate = float64(verified) / float64(report.TotalVerifications)
		report.AverageConfidence = confidenceSum / float64(report.TotalVerifications)
	}
	report.TopEvidenceTypes = rankEvidence(evidenceCounts, topEvidenceTypes)

	scores, err := r.repos.Reputation.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list reputation: %w", err)
	}
	for _, sc := range scores {
		if !filter.Timeframe.contains(sc.LastUpdated) {
			continue
		}
		switch {
		case sc.Score > model.NeutralReputation:
			report.ReputationImpact.Positive++
		case sc.Score < model.NeutralReputation:
			report.ReputationImpact.Negative++
		default:
			report.ReputationImpact.Neutral++
		}
	}
	return report, nil
}

// rankEvidence orders by count descending, then by type name.
func rankEvidence(counts map[model.EvidenceType]int, limit int) []EvidenceTypeCount {
	out := make([]EvidenceTypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, EvidenceTypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CleanupOldData deletes requests and results whose own timestamp is at or
// before now minus maxAge. Provenance and reputation are kept. A result is
// stamped when it is produced, so it can outlive its request: status lookups
// then report the request as not found while history still lists the result.
func (r *Registry) CleanupOldData(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	if maxAge < 0 {
		return CleanupResult{}, fmt.Errorf("%w: negative max age %s", ErrInvalidRequest, maxAge)
	}
	ctx, span := tracing.Tracer("registry").Start(ctx, "registry.CleanupOldData",
		trace.WithAttributes(attribute.String("max_age", maxAge.String())))
	defer span.End()

	var fx effects
	res, err := r.cleanup(ctx, maxAge, &fx)
	tracing.RecordError(span, err)
	if err != nil {
		metrics.CleanupErrors.Inc()
		fx.alert(alert.Alert{
			Type:    alert.AlertTypeCleanupFailed,
			Subject: "cleanup",
			Title:   "Registry cleanup failed",
			Message: err.Error(),
			Fields: map[string]string{
				"max_age": maxAge.String(),
			},
		})
	}
	r.deliver(ctx, &fx)
	return res, err
}

func (r *Registry) cleanup(ctx context.Context, maxAge time.Duration, fx *effects) (CleanupResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := CleanupResult{Cutoff: r.now().Add(-maxAge)}
	err := r.inTx(ctx, fx, func(ctx context.Context, repos store.Repos, _ *effects) error {
		var err error
		if out.RequestsDeleted, err = repos.Requests.DeleteOlderThan(ctx, out.Cutoff); err != nil {
			return fmt.Errorf("delete requests: %w", err)
		}
		if out.ResultsDeleted, err = repos.Results.DeleteOlderThan(ctx, out.Cutoff); err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		return nil
	})
	if err != nil {
		return CleanupResult{Cutoff: out.Cutoff}, err
	}

	metrics.CleanupDeletedTotal.WithLabelValues("request").Add(float64(out.RequestsDeleted))
	metrics.CleanupDeletedTotal.WithLabelValues("result").Add(float64(out.ResultsDeleted))
	fx.event(Event{
		Type:       EventCleanupCompleted,
		OccurredAt: r.now(),
		Payload:    out,
	})
	r.logger.Info("cleanup completed",
		"cutoff", out.Cutoff,
		"requests_deleted", out.RequestsDeleted,
		"results_deleted", out.ResultsDeleted,
		"max_age_days", strconv.FormatFloat(maxAge.Hours()/24, 'f', 2, 64),
	)
	return out, nil
}
