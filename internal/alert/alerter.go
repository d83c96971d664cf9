// Package alert notifies operators about registry conditions worth a human look.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/retry"
)

// deliveryPolicy retries webhook posts that fail with 429, 5xx or a network error.
var deliveryPolicy = retry.Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

type AlertType string

const (
	AlertTypeReputationLow   AlertType = "REPUTATION_LOW"
	AlertTypeBatchDegraded   AlertType = "BATCH_DEGRADED"
	AlertTypeEventStreamDown AlertType = "EVENT_STREAM_DOWN"
	AlertTypeEventStreamUp   AlertType = "EVENT_STREAM_RECOVERED"
	AlertTypeCleanupFailed   AlertType = "CLEANUP_FAILED"
)

// Alert is a single notification. Subject identifies what the alert is
// about (an entity id, a stream key) and scopes cooldown.
type Alert struct {
	Type    AlertType
	Subject string
	Title   string
	Message string
	Fields  map[string]string
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans an alert out to every channel, suppressing repeats of
// the same type and subject inside the cooldown window.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func cooldownKey(a Alert) string {
	return string(a.Type) + ":" + a.Subject
}

func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)

	m.mu.Lock()
	now := m.now()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
		return nil
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed",
				"channel", alerterName(a),
				"type", alert.Type,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	case *LogAlerter:
		return "log"
	default:
		return "unknown"
	}
}

// SlackAlerter posts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
	policy     retry.Policy
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		policy:     deliveryPolicy,
	}
}

func slackEmoji(t AlertType) string {
	switch t {
	case AlertTypeReputationLow:
		return ":chart_with_downwards_trend:"
	case AlertTypeEventStreamUp:
		return ":white_check_mark:"
	case AlertTypeEventStreamDown:
		return ":rotating_light:"
	case AlertTypeCleanupFailed:
		return ":wastebasket:"
	default:
		return ":warning:"
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *[%s]* %s: %s\n%s", slackEmoji(alert.Type), alert.Type, alert.Subject, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	return postJSON(ctx, s.client, s.policy, s.webhookURL, map[string]string{"text": sb.String()}, "slack")
}

// WebhookAlerter posts a flat JSON document to an arbitrary endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
	policy retry.Policy
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: deliveryPolicy,
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"subject": alert.Subject,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.policy, w.url, payload, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, policy retry.Policy, url string, payload any, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	return retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Terminal(fmt.Errorf("create %s request: %w", channel, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("send %s alert: %w", channel, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return retry.HTTPStatus(resp.StatusCode, fmt.Errorf("%s returned status %d", channel, resp.StatusCode))
		}
		return nil
	})
}

// LogAlerter writes alerts to the structured log. It is the fallback channel
// when no webhook is configured.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	args := []any{"type", alert.Type, "subject", alert.Subject, "title", alert.Title, "message", alert.Message}
	for k, v := range alert.Fields {
		args = append(args, "field_"+k, v)
	}
	l.logger.Warn("alert", args...)
	return nil
}

// NoopAlerter does nothing.
type NoopAlerter struct{}

func (NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
