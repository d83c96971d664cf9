package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNeutralScore(t *testing.T) {
	s := NeutralScore("entity-1")
	assert.Equal(t, "entity-1", s.EntityID)
	assert.Equal(t, 50.0, s.Score)
	assert.Zero(t, s.Confidence)
	assert.Zero(t, s.EvidenceCount)
	assert.True(t, s.LastUpdated.IsZero())
}

func TestReputationScore_ApplyCounters(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NeutralScore("e")

	s.Apply(1, now)
	s.Apply(1, now)
	s.Apply(-1, now)

	assert.Equal(t, 51.0, s.Score)
	assert.Equal(t, 3, s.EvidenceCount)
	assert.Equal(t, 2, s.PositiveEvidence)
	assert.Equal(t, 1, s.NegativeEvidence)
	assert.Equal(t, 3, s.TotalVerifications)
	assert.InDelta(t, 0.03, s.Confidence, 1e-9)
	assert.Equal(t, now, s.LastUpdated)
}

func TestReputationScore_Clamps(t *testing.T) {
	now := time.Now()

	low := NeutralScore("low")
	for i := 0; i < 80; i++ {
		low.Apply(-1, now)
		assert.GreaterOrEqual(t, low.Score, MinReputation)
	}
	assert.Equal(t, MinReputation, low.Score)

	high := NeutralScore("high")
	for i := 0; i < 80; i++ {
		high.Apply(1, now)
		assert.LessOrEqual(t, high.Score, MaxReputation)
	}
	assert.Equal(t, MaxReputation, high.Score)
}

func TestReputationScore_ConfidenceCaps(t *testing.T) {
	s := NeutralScore("e")
	prev := s.Confidence
	for i := 0; i < 150; i++ {
		s.Apply(1, time.Now())
		assert.GreaterOrEqual(t, s.Confidence, prev)
		prev = s.Confidence
	}
	assert.Equal(t, 1.0, s.Confidence)
}
