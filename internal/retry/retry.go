// Package retry classifies errors as transient or terminal and retries
// transient ones with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTransient,
		reason: "explicit_transient",
	}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTerminal,
		reason: "explicit_terminal",
	}
}

// HTTPStatus marks err transient for 429 and 5xx responses and terminal otherwise.
func HTTPStatus(code int, err error) error {
	if err == nil {
		return nil
	}
	if code == 429 || code >= 500 {
		return &classifiedError{err: err, class: ClassTransient, reason: fmt.Sprintf("http_%d", code)}
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: fmt.Sprintf("http_%d", code)}
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgresCode(pqErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Decision{Class: ClassTransient, Reason: "net_op_" + opErr.Op}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// classifyPostgresCode treats connection failures, serialization conflicts
// and server shutdowns as transient.
func classifyPostgresCode(code pq.ErrorCode) Decision {
	switch {
	case code.Class() == "08":
		return Decision{Class: ClassTransient, Reason: "pg_connection_exception"}
	case code == "40001" || code == "40P01":
		return Decision{Class: ClassTransient, Reason: "pg_serialization"}
	case code == "57P01" || code == "57P03":
		return Decision{Class: ClassTransient, Reason: "pg_unavailable"}
	case code == "53300":
		return Decision{Class: ClassTransient, Reason: "pg_too_many_connections"}
	}
	return Decision{Class: ClassTerminal, Reason: "pg_" + string(code)}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"the database system is starting up",
	"server closed idle connection",
	"i/o timeout",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"parse error",
	"not found",
	"constraint violation",
	"password authentication failed",
}

// Policy bounds a retry loop. Zero values take the defaults noted per field.
type Policy struct {
	Attempts  int           // total attempts including the first (3)
	BaseDelay time.Duration // delay before the second attempt (200ms)
	MaxDelay  time.Duration // cap on any single delay (5s)
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Delay returns the backoff before attempt n (1-based, n >= 2).
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 2; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Do calls fn until it succeeds, returns a terminal error, the attempts run
// out, or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !Classify(err).IsTransient() {
			return err
		}
	}
	return err
}
