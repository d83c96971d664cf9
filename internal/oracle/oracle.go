// Package oracle decides verification outcomes. The registry never flips a
// coin itself; it asks an Oracle, so tests can substitute a deterministic one
// and a real verifier can be plugged in later.
package oracle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
)

const (
	DefaultSuccessRate = 0.8

	// Confidence bands. The gap between FailureConfidenceMax and
	// SuccessConfidenceMin is never produced.
	SuccessConfidenceMin = 0.7
	SuccessConfidenceMax = 1.0
	FailureConfidenceMax = 0.4
)

// Outcome is a single verification decision.
type Outcome struct {
	Verified   bool
	Confidence float64
}

// Oracle decides whether a request verifies.
type Oracle interface {
	Decide(ctx context.Context, req *model.VerificationRequest) (Outcome, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, req *model.VerificationRequest) (Outcome, error)

func (f Func) Decide(ctx context.Context, req *model.VerificationRequest) (Outcome, error) {
	return f(ctx, req)
}

// Random verifies with a fixed probability and draws confidence from the
// band matching the decision.
type Random struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

// NewRandom returns a Random oracle. A zero seed seeds from the clock.
func NewRandom(successRate float64, seed uint64) (*Random, error) {
	if successRate < 0 || successRate > 1 {
		return nil, fmt.Errorf("success rate must be within [0,1], got %v", successRate)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Random{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		successRate: successRate,
	}, nil
}

func (r *Random) SuccessRate() float64 {
	return r.successRate
}

func (r *Random) Decide(_ context.Context, _ *model.VerificationRequest) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rng.Float64() < r.successRate {
		return Outcome{
			Verified:   true,
			Confidence: SuccessConfidenceMin + r.rng.Float64()*(SuccessConfidenceMax-SuccessConfidenceMin),
		}, nil
	}
	return Outcome{
		Verified:   false,
		Confidence: r.rng.Float64() * FailureConfidenceMax,
	}, nil
}

// Fixed always returns the same outcome.
type Fixed Outcome

func (f Fixed) Decide(_ context.Context, _ *model.VerificationRequest) (Outcome, error) {
	return Outcome(f), nil
}

// Sequence replays outcomes in order and repeats the last one once exhausted.
type Sequence struct {
	mu       sync.Mutex
	outcomes []Outcome
	next     int
}

func NewSequence(outcomes ...Outcome) *Sequence {
	return &Sequence{outcomes: outcomes}
}

func (s *Sequence) Decide(_ context.Context, _ *model.VerificationRequest) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outcomes) == 0 {
		return Outcome{}, fmt.Errorf("sequence oracle has no outcomes")
	}
	idx := s.next
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	} else {
		s.next++
	}
	return s.outcomes[idx], nil
}
