package model

import "time"

const (
	MinReputation     = 0.0
	MaxReputation     = 100.0
	NeutralReputation = 50.0

	// ConfidenceEvidenceCap is the evidence count at which confidence reaches 1.
	ConfidenceEvidenceCap = 100
)

type ReputationScore struct {
	EntityID           string    `json:"entity_id"`
	Score              float64   `json:"score"`
	Confidence         float64   `json:"confidence"`
	EvidenceCount      int       `json:"evidence_count"`
	PositiveEvidence   int       `json:"positive_evidence"`
	NegativeEvidence   int       `json:"negative_evidence"`
	TotalVerifications int       `json:"total_verifications"`
	LastUpdated        time.Time `json:"last_updated"`
}

// NeutralScore returns the default record for an entity that has never been scored.
func NeutralScore(entityID string) ReputationScore {
	return ReputationScore{
		EntityID: entityID,
		Score:    NeutralReputation,
	}
}

// Apply adjusts the score by evidence (+1 or -1), clamping to
// [MinReputation, MaxReputation] and recomputing confidence.
func (r *ReputationScore) Apply(evidence float64, at time.Time) {
	r.Score = clampScore(r.Score + evidence)
	r.EvidenceCount++
	if evidence > 0 {
		r.PositiveEvidence++
	} else if evidence < 0 {
		r.NegativeEvidence++
	}
	r.TotalVerifications++
	r.Confidence = min(1, float64(r.EvidenceCount)/ConfidenceEvidenceCap)
	r.LastUpdated = at
}

func clampScore(v float64) float64 {
	if v < MinReputation {
		return MinReputation
	}
	if v > MaxReputation {
		return MaxReputation
	}
	return v
}
