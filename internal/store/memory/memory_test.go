package memory

import (
	"context"
	"testing"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRepo_SaveGetCount(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepo()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.Save(ctx, &model.VerificationRequest{ID: "r1", ContentID: "c1"}))
	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ContentID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestRepo_DeleteOlderThanIsInclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepo()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, &model.VerificationRequest{ID: "old", Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, repo.Save(ctx, &model.VerificationRequest{ID: "edge", Timestamp: now}))
	require.NoError(t, repo.Save(ctx, &model.VerificationRequest{ID: "new", Timestamp: now.Add(time.Second)}))

	deleted, err := repo.DeleteOlderThan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = repo.Get(ctx, "new")
	assert.NoError(t, err)
}

func TestResultRepo_SaveReplacesAndCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepo()

	res := &model.VerificationResult{
		RequestID: "r1",
		ContentID: "c1",
		Status:    model.StatusFailed,
		Evidence:  []model.VerificationEvidence{{Type: model.EvidenceCustom}},
	}
	require.NoError(t, repo.Save(ctx, res))
	res.Evidence[0].Type = model.EvidenceCryptographicProof

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.EvidenceCustom, got.Evidence[0].Type, "stored copy must not alias caller slice")

	require.NoError(t, repo.Save(ctx, &model.VerificationResult{RequestID: "r1", ContentID: "c1", Status: model.StatusVerified}))
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusVerified, all[0].Status)
}

func TestResultRepo_ListByContentNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, &model.VerificationResult{RequestID: "a", ContentID: "c", Timestamp: base}))
	require.NoError(t, repo.Save(ctx, &model.VerificationResult{RequestID: "b", ContentID: "c", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, repo.Save(ctx, &model.VerificationResult{RequestID: "x", ContentID: "other", Timestamp: base}))

	got, err := repo.ListByContent(ctx, "c")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].RequestID)
	assert.Equal(t, "a", got[1].RequestID)

	none, err := repo.ListByContent(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestProvenanceRepo_AppendOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewProvenanceRepo()

	empty, err := repo.List(ctx, "c")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = repo.Last(ctx, "c")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, repo.Append(ctx, &model.ProvenanceRecord{ID: id, ContentID: "c"}))
	}

	got, err := repo.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p3", got[2].ID)

	got[0].ID = "mutated"
	again, _ := repo.List(ctx, "c")
	assert.Equal(t, "p1", again[0].ID)

	last, err := repo.Last(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "p3", last.ID)
}

func TestReputationRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewReputationRepo()

	_, err := repo.Get(ctx, "e")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.Save(ctx, &model.ReputationScore{EntityID: "b", Score: 51}))
	require.NoError(t, repo.Save(ctx, &model.ReputationScore{EntityID: "a", Score: 49}))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", all[0].EntityID)
}

func TestContractRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewContractRepo()

	_, err := repo.Get(ctx, model.NetworkPolygon)
	assert.ErrorIs(t, err, store.ErrNotFound)

	c := &model.VerificationSmartContract{Address: "0xabc", Network: model.NetworkPolygon, ABI: []string{"verify"}, Version: "1.0.0"}
	require.NoError(t, repo.Save(ctx, c))
	c.ABI[0] = "mutated"

	got, err := repo.Get(ctx, model.NetworkPolygon)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Address)
	assert.Equal(t, []string{"verify"}, got.ABI)
}

func TestRepos_StoredMapsAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	repos := NewRepos()

	req := &model.VerificationRequest{ID: "r1", ContentID: "c1", Metadata: map[string]any{"source": "api"}}
	require.NoError(t, repos.Requests.Save(ctx, req))
	req.Metadata["source"] = "tampered"
	gotReq, err := repos.Requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "api", gotReq.Metadata["source"])
	gotReq.Metadata["source"] = "tampered"
	again, err := repos.Requests.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "api", again.Metadata["source"])

	res := &model.VerificationResult{
		RequestID: "r1",
		ContentID: "c1",
		Evidence:  []model.VerificationEvidence{{Type: model.EvidenceCustom, Data: map[string]any{"tx": "0xabc"}}},
	}
	require.NoError(t, repos.Results.Save(ctx, res))
	res.Evidence[0].Data["tx"] = "0xdef"
	gotRes, err := repos.Results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", gotRes.Evidence[0].Data["tx"])
	gotRes.Evidence[0].Data["tx"] = "0xdef"
	listed, err := repos.Results.ListByContent(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "0xabc", listed[0].Evidence[0].Data["tx"])

	rec := &model.ProvenanceRecord{ID: "p1", ContentID: "c1", Metadata: map[string]any{"request_id": "r1"}}
	require.NoError(t, repos.Provenance.Append(ctx, rec))
	rec.Metadata["request_id"] = "r2"
	chain, err := repos.Provenance.List(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "r1", chain[0].Metadata["request_id"])
	chain[0].Metadata["request_id"] = "r2"
	last, err := repos.Provenance.Last(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "r1", last.Metadata["request_id"])
}

func TestRepos_DeleteAndRemove(t *testing.T) {
	ctx := context.Background()
	repos := NewRepos()

	require.NoError(t, repos.Requests.Save(ctx, &model.VerificationRequest{ID: "r1"}))
	require.NoError(t, repos.Requests.Delete(ctx, "r1"))
	_, err := repos.Requests.Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repos.Results.Save(ctx, &model.VerificationResult{RequestID: "r1"}))
	require.NoError(t, repos.Results.Delete(ctx, "r1"))
	_, err = repos.Results.Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repos.Reputation.Save(ctx, &model.ReputationScore{EntityID: "e1", Score: 51}))
	require.NoError(t, repos.Reputation.Delete(ctx, "e1"))
	_, err = repos.Reputation.Get(ctx, "e1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, repos.Provenance.Append(ctx, &model.ProvenanceRecord{ID: id, ContentID: "c1"}))
	}
	require.NoError(t, repos.Provenance.Remove(ctx, "c1", "p2"))
	chain, err := repos.Provenance.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "p1", chain[0].ID)
	assert.Equal(t, "p3", chain[1].ID)

	require.NoError(t, repos.Provenance.Remove(ctx, "c1", "p1"))
	require.NoError(t, repos.Provenance.Remove(ctx, "c1", "p3"))
	_, err = repos.Provenance.Last(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
