// Package redis publishes registry events to Redis Streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/emperorhan/verification-registry/internal/circuitbreaker"
	"github.com/redis/go-redis/v9"
)

// payloadField is the single stream entry field carrying the JSON document.
const payloadField = "payload"

// MessageTransport appends JSON documents to named streams.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	Close() error
}

// Stream writes to Redis Streams with XADD, trimming each stream to roughly maxLen entries.
type Stream struct {
	client *redis.Client
	maxLen int64
}

func NewStream(url string, maxLen int64) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client, maxLen: maxLen}, nil
}

func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Ping checks the Redis connection.
func (s *Stream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Stream) Close() error {
	return s.client.Close()
}

// InMemoryStream keeps streams in process memory. Entry ids are "<seq>-0".
type InMemoryStream struct {
	mu      sync.Mutex
	streams map[string][][]byte
}

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{streams: make(map[string][][]byte)}
}

func (s *InMemoryStream) PublishJSON(_ context.Context, stream string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream] = append(s.streams[stream], payload)
	return fmt.Sprintf("%d-0", len(s.streams[stream])), nil
}

// ReadJSON decodes the first entry after lastID into dst and returns its id.
// It does not block; an exhausted stream yields ErrNoEntry.
func (s *InMemoryStream) ReadJSON(_ context.Context, stream, lastID string, dst any) (string, error) {
	seq, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	entries := s.streams[stream]
	if int(seq) >= len(entries) {
		s.mu.Unlock()
		return "", ErrNoEntry
	}
	payload := entries[seq]
	s.mu.Unlock()

	if err := json.Unmarshal(payload, dst); err != nil {
		return "", fmt.Errorf("unmarshal stream payload: %w", err)
	}
	return fmt.Sprintf("%d-0", seq+1), nil
}

// Len reports the number of entries in stream.
func (s *InMemoryStream) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[stream])
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][][]byte)
	return nil
}

// ErrNoEntry is returned by InMemoryStream.ReadJSON when nothing follows lastID.
var ErrNoEntry = errors.New("redis: no stream entry")

func parseStreamOffset(id string) (int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, nil
	}
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q: %w", id, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Guarded drops publishes while its breaker is open so a dead Redis cannot
// slow down every verification.
type Guarded struct {
	next    MessageTransport
	breaker *circuitbreaker.Breaker
}

func NewGuarded(next MessageTransport, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	if err := g.breaker.Allow(); err != nil {
		return "", err
	}
	id, err := g.next.PublishJSON(ctx, stream, v)
	if err != nil {
		g.breaker.RecordFailure()
		return "", err
	}
	g.breaker.RecordSuccess()
	return id, nil
}

func (g *Guarded) Close() error {
	return g.next.Close()
}
