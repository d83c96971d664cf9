package registry

import (
	"context"
	"errors"
	"time"

	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/circuitbreaker"
	"github.com/emperorhan/verification-registry/internal/metrics"
)

type EventType string

const (
	EventRequestCreated       EventType = "request_created"
	EventVerificationComplete EventType = "verification_completed"
	EventProvenanceAppended   EventType = "provenance_appended"
	EventReputationChanged    EventType = "reputation_changed"
	EventCleanupCompleted     EventType = "cleanup_completed"
)

// Event is the envelope written to the event stream.
type Event struct {
	Type       EventType `json:"type"`
	ContentID  string    `json:"content_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// effects collects the notifications produced while the registry lock is
// held. They are delivered after it is released.
type effects struct {
	events []Event
	alerts []alert.Alert
}

func (fx *effects) event(e Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) alert(a alert.Alert) {
	fx.alerts = append(fx.alerts, a)
}

func (fx *effects) merge(other *effects) {
	fx.events = append(fx.events, other.events...)
	fx.alerts = append(fx.alerts, other.alerts...)
}

func (r *Registry) deliver(ctx context.Context, fx *effects) {
	for _, a := range fx.alerts {
		if err := r.alerter.Send(ctx, a); err != nil {
			r.logger.Warn("alert delivery failed", "type", a.Type, "subject", a.Subject, "error", err)
		}
	}
	if r.publisher == nil {
		return
	}
	for _, e := range fx.events {
		if _, err := r.publisher.PublishJSON(ctx, r.streamKey, e); err != nil {
			reason := "publish_error"
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				reason = "circuit_open"
			}
			metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
			r.logger.Debug("event publish failed", "type", e.Type, "error", err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
	}
}
