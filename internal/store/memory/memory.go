// Package memory holds process-lifetime implementations of the store
// repositories. Values are copied on the way in and out so callers cannot
// mutate stored records.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
)

// NewRepos returns a full set of in-memory repositories. Tx is left nil, so
// multi-step writes are made atomic by store.Compensating.
func NewRepos() store.Repos {
	return store.Repos{
		Requests:   NewRequestRepo(),
		Results:    NewResultRepo(),
		Provenance: NewProvenanceRepo(),
		Reputation: NewReputationRepo(),
		Contracts:  NewContractRepo(),
	}
}

type RequestRepo struct {
	mu    sync.RWMutex
	items map[string]model.VerificationRequest
}

func NewRequestRepo() *RequestRepo {
	return &RequestRepo{items: make(map[string]model.VerificationRequest)}
}

func (r *RequestRepo) Save(_ context.Context, req *model.VerificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[req.ID] = req.Clone()
	return nil
}

func (r *RequestRepo) Get(_ context.Context, id string) (*model.VerificationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := req.Clone()
	return &out, nil
}

func (r *RequestRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *RequestRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *RequestRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, req := range r.items {
		if !req.Timestamp.After(cutoff) {
			delete(r.items, id)
			deleted++
		}
	}
	return deleted, nil
}

type ResultRepo struct {
	mu    sync.RWMutex
	items map[string]model.VerificationResult
}

func NewResultRepo() *ResultRepo {
	return &ResultRepo{items: make(map[string]model.VerificationResult)}
}

func (r *ResultRepo) Save(_ context.Context, res *model.VerificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[res.RequestID] = res.Clone()
	return nil
}

func (r *ResultRepo) Get(_ context.Context, requestID string) (*model.VerificationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.items[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := res.Clone()
	return &out, nil
}

func (r *ResultRepo) List(_ context.Context) ([]model.VerificationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.VerificationResult, 0, len(r.items))
	for _, res := range r.items {
		out = append(out, res.Clone())
	}
	sortResultsNewestFirst(out)
	return out, nil
}

func (r *ResultRepo) ListByContent(_ context.Context, contentID string) ([]model.VerificationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.VerificationResult, 0)
	for _, res := range r.items {
		if res.ContentID == contentID {
			out = append(out, res.Clone())
		}
	}
	sortResultsNewestFirst(out)
	return out, nil
}

func (r *ResultRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, res := range r.items {
		if !res.Timestamp.After(cutoff) {
			delete(r.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *ResultRepo) Delete(_ context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, requestID)
	return nil
}

func sortResultsNewestFirst(results []model.VerificationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].RequestID < results[j].RequestID
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
}

type ProvenanceRepo struct {
	mu     sync.RWMutex
	chains map[string][]model.ProvenanceRecord
}

func NewProvenanceRepo() *ProvenanceRepo {
	return &ProvenanceRepo{chains: make(map[string][]model.ProvenanceRecord)}
}

func (r *ProvenanceRepo) Append(_ context.Context, rec *model.ProvenanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[rec.ContentID] = append(r.chains[rec.ContentID], rec.Clone())
	return nil
}

func (r *ProvenanceRepo) Remove(_ context.Context, contentID, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[contentID]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].ID == recordID {
			chain = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(r.chains, contentID)
		return nil
	}
	r.chains[contentID] = chain
	return nil
}

func (r *ProvenanceRepo) List(_ context.Context, contentID string) ([]model.ProvenanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chains[contentID]
	out := make([]model.ProvenanceRecord, len(chain))
	for i, rec := range chain {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (r *ProvenanceRepo) Last(_ context.Context, contentID string) (*model.ProvenanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chains[contentID]
	if len(chain) == 0 {
		return nil, store.ErrNotFound
	}
	last := chain[len(chain)-1].Clone()
	return &last, nil
}

type ReputationRepo struct {
	mu     sync.RWMutex
	scores map[string]model.ReputationScore
}

func NewReputationRepo() *ReputationRepo {
	return &ReputationRepo{scores: make(map[string]model.ReputationScore)}
}

func (r *ReputationRepo) Get(_ context.Context, entityID string) (*model.ReputationScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scores[entityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (r *ReputationRepo) Save(_ context.Context, score *model.ReputationScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[score.EntityID] = *score
	return nil
}

func (r *ReputationRepo) Delete(_ context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scores, entityID)
	return nil
}

func (r *ReputationRepo) List(_ context.Context) ([]model.ReputationScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ReputationScore, 0, len(r.scores))
	for _, s := range r.scores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (r *ReputationRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scores), nil
}

type ContractRepo struct {
	mu        sync.RWMutex
	contracts map[model.Network]model.VerificationSmartContract
}

func NewContractRepo() *ContractRepo {
	return &ContractRepo{contracts: make(map[model.Network]model.VerificationSmartContract)}
}

func (r *ContractRepo) Save(_ context.Context, c *model.VerificationSmartContract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.ABI = append([]string(nil), c.ABI...)
	r.contracts[c.Network] = cp
	return nil
}

func (r *ContractRepo) Get(_ context.Context, network model.Network) (*model.VerificationSmartContract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[network]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.ABI = append([]string(nil), c.ABI...)
	return &c, nil
}
