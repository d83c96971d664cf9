// Package registry implements the content verification registry: request
// intake, simulated verification, the provenance ledger, reputation
// tracking, and reporting over the stored requests and results.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/fingerprint"
	"github.com/emperorhan/verification-registry/internal/oracle"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/emperorhan/verification-registry/internal/store/memory"
)

// DefaultRetention is the age past which CleanupOldData removes requests
// and results when the caller has no better value.
const DefaultRetention = 30 * 24 * time.Hour

// DefaultRequester labels requests made without a requester.
const DefaultRequester = "system"

// DefaultEventStream is the stream key events are published to.
const DefaultEventStream = "registry:events"

var (
	ErrRequestNotFound = errors.New("verification request not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrBrokenChain     = errors.New("provenance chain broken")
)

// EventPublisher receives registry events. Publishing is best-effort.
type EventPublisher interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
}

// Registry owns all verification state. It is safe for concurrent use;
// every state change is serialised under one mutex.
type Registry struct {
	mu sync.Mutex

	repos          store.Repos
	tx             store.Transactor
	oracle         oracle.Oracle
	hasher         fingerprint.Hasher
	now            func() time.Time
	logger         *slog.Logger
	alerter        alert.Alerter
	publisher      EventPublisher
	streamKey      string
	defaultNetwork model.Network
	apiKey         string
	alertFloor     float64
}

type Option func(*Registry)

func WithOracle(o oracle.Oracle) Option {
	return func(r *Registry) {
		r.oracle = o
	}
}

func WithHasher(h fingerprint.Hasher) Option {
	return func(r *Registry) {
		r.hasher = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithRepos(repos store.Repos) Option {
	return func(r *Registry) {
		r.repos = repos
	}
}

func WithAlerter(a alert.Alerter) Option {
	return func(r *Registry) {
		r.alerter = a
	}
}

// WithPublisher publishes registry events to stream. An empty stream uses
// DefaultEventStream.
func WithPublisher(p EventPublisher, stream string) Option {
	return func(r *Registry) {
		r.publisher = p
		if stream != "" {
			r.streamKey = stream
		}
	}
}

func WithDefaultNetwork(n model.Network) Option {
	return func(r *Registry) {
		if n != "" {
			r.defaultNetwork = n
		}
	}
}

// WithAPIKey stores key on the registry. The key is never sent anywhere.
func WithAPIKey(key string) Option {
	return func(r *Registry) {
		r.apiKey = key
	}
}

// WithReputationAlertFloor raises a REPUTATION_LOW alert whenever an update
// leaves a score below floor. Zero disables the alert.
func WithReputationAlertFloor(floor float64) Option {
	return func(r *Registry) {
		r.alertFloor = floor
	}
}

// New builds a Registry. Unset dependencies default to in-memory stores, a
// SHA-256 fingerprint, an 80% random oracle and the wall clock.
func New(opts ...Option) *Registry {
	r := &Registry{
		hasher:         fingerprint.SHA256{},
		now:            time.Now,
		logger:         slog.Default(),
		alerter:        alert.NoopAlerter{},
		streamKey:      DefaultEventStream,
		defaultNetwork: model.DefaultNetwork,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.repos.Requests == nil {
		r.repos = memory.NewRepos()
	}
	r.tx = r.repos.Transactor()
	if r.oracle == nil {
		// DefaultSuccessRate is always within range.
		rnd, _ := oracle.NewRandom(oracle.DefaultSuccessRate, 0)
		r.oracle = rnd
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns a process-wide Registry built with default dependencies.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// APIKey returns the key given to WithAPIKey.
func (r *Registry) APIKey() string {
	return r.apiKey
}

// DefaultNetwork returns the network assigned to requests that name none.
func (r *Registry) DefaultNetwork() model.Network {
	return r.defaultNetwork
}

// inTx runs fn in one store transaction. Effects fn records are kept only
// if the transaction commits.
func (r *Registry) inTx(ctx context.Context, fx *effects, fn func(ctx context.Context, repos store.Repos, fx *effects) error) error {
	var staged effects
	err := r.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repos) error {
		staged = effects{}
		return fn(ctx, repos, &staged)
	})
	if err != nil {
		return err
	}
	fx.merge(&staged)
	return nil
}

// HashAlgorithm names the active fingerprint strategy.
func (r *Registry) HashAlgorithm() string {
	return r.hasher.Name()
}
