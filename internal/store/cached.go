package store

import (
	"context"
	"sync"
	"time"

	"github.com/emperorhan/verification-registry/internal/cache"
	"github.com/emperorhan/verification-registry/internal/domain/model"
)

// CachedResultRepository is a read-through LRU in front of a ResultRepository.
// Writes go to the backing repository first and then refresh the cache.
type CachedResultRepository struct {
	ResultRepository
	lru *cache.LRU[string, model.VerificationResult]
}

func NewCachedResultRepository(next ResultRepository, capacity int, ttl time.Duration) *CachedResultRepository {
	return &CachedResultRepository{
		ResultRepository: next,
		lru:              cache.NewLRU[string, model.VerificationResult](capacity, ttl),
	}
}

func (c *CachedResultRepository) Save(ctx context.Context, res *model.VerificationResult) error {
	if err := c.ResultRepository.Save(ctx, res); err != nil {
		c.lru.Delete(res.RequestID)
		return err
	}
	c.lru.Put(res.RequestID, res.Clone())
	return nil
}

func (c *CachedResultRepository) Get(ctx context.Context, requestID string) (*model.VerificationResult, error) {
	if res, ok := c.lru.Get(requestID); ok {
		out := res.Clone()
		return &out, nil
	}
	res, err := c.ResultRepository.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	c.lru.Put(requestID, res.Clone())
	return res, nil
}

func (c *CachedResultRepository) Delete(ctx context.Context, requestID string) error {
	err := c.ResultRepository.Delete(ctx, requestID)
	c.lru.Delete(requestID)
	return err
}

// DeleteOlderThan purges the whole cache; entries are cheap to reload.
func (c *CachedResultRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := c.ResultRepository.DeleteOlderThan(ctx, cutoff)
	c.lru.Purge()
	return n, err
}

// CacheStats exposes hit/miss counters for metrics.
func (c *CachedResultRepository) CacheStats() (hits, misses int64) {
	return c.lru.Stats()
}

// WrapTransactor keeps the cache coherent with next: result writes made
// inside a transaction bypass the cache and their keys are evicted once the
// transaction ends, whether it committed or not.
func (c *CachedResultRepository) WrapTransactor(next Transactor) Transactor {
	return &cachedTransactor{next: next, cache: c}
}

type cachedTransactor struct {
	next  Transactor
	cache *CachedResultRepository
}

func (t *cachedTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	touched := &touchedResults{keys: make(map[string]struct{})}
	defer touched.evict(t.cache.lru)

	return t.next.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		touched.ResultRepository = tx.Results
		tx.Results = touched
		return fn(ctx, tx)
	})
}

type touchedResults struct {
	ResultRepository
	mu    sync.Mutex
	keys  map[string]struct{}
	purge bool
}

func (r *touchedResults) mark(requestID string) {
	r.mu.Lock()
	r.keys[requestID] = struct{}{}
	r.mu.Unlock()
}

func (r *touchedResults) Save(ctx context.Context, res *model.VerificationResult) error {
	r.mark(res.RequestID)
	return r.ResultRepository.Save(ctx, res)
}

func (r *touchedResults) Delete(ctx context.Context, requestID string) error {
	r.mark(requestID)
	return r.ResultRepository.Delete(ctx, requestID)
}

func (r *touchedResults) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	r.purge = true
	r.mu.Unlock()
	return r.ResultRepository.DeleteOlderThan(ctx, cutoff)
}

func (r *touchedResults) evict(lru *cache.LRU[string, model.VerificationResult]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.purge {
		lru.Purge()
		return
	}
	for key := range r.keys {
		lru.Delete(key)
	}
}
