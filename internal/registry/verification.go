package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/verification-registry/internal/alert"
	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/fingerprint"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/store"
	"github.com/emperorhan/verification-registry/internal/tracing"
)

const idFingerprintPrefix = 16

// RequestInput describes content submitted for verification.
type RequestInput struct {
	ContentID        string                 `json:"content_id"`
	Content          any                    `json:"content"`
	VerificationType model.VerificationType `json:"verification_type"`
	ContentType      model.ContentType      `json:"content_type,omitempty"`
	Metadata         map[string]any         `json:"metadata,omitempty"`
	Requester        string                 `json:"requester,omitempty"`
	Network          model.Network          `json:"network,omitempty"`
}

// BatchItem is one entry of a BatchVerify call.
type BatchItem = RequestInput

func (in RequestInput) validate() error {
	if in.ContentID == "" {
		return fmt.Errorf("%w: content_id is required", ErrInvalidRequest)
	}
	if in.Content == nil {
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	if !in.VerificationType.Valid() {
		return fmt.Errorf("%w: unknown verification type %q", ErrInvalidRequest, in.VerificationType)
	}
	return nil
}

func contentTypeOf(content any) model.ContentType {
	switch content.(type) {
	case string:
		return model.ContentTypeText
	case []byte:
		return model.ContentTypeBinary
	default:
		return model.ContentTypeJSON
	}
}

// RequestVerification records a verification request for the content and
// appends a verify record to its provenance chain. Identical content is
// never deduplicated.
func (r *Registry) RequestVerification(ctx context.Context, in RequestInput) (*model.VerificationRequest, error) {
	var fx effects
	r.mu.Lock()
	req, err := r.requestLocked(ctx, in, &fx)
	r.mu.Unlock()
	r.deliver(ctx, &fx)
	return req, err
}

func (r *Registry) requestLocked(ctx context.Context, in RequestInput, fx *effects) (*model.VerificationRequest, error) {
	if err := in.validate(); err != nil {
		metrics.RequestsRejected.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	contentHash, err := fingerprint.SumContent(r.hasher, in.Content)
	if err != nil {
		metrics.RequestsRejected.WithLabelValues("unencodable_content").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := r.now()
	req := &model.VerificationRequest{
		ID:               requestID(contentHash, now),
		ContentID:        in.ContentID,
		ContentHash:      contentHash,
		ContentType:      in.ContentType,
		VerificationType: in.VerificationType,
		Metadata:         maps.Clone(in.Metadata),
		Requester:        in.Requester,
		Timestamp:        now,
		Network:          in.Network,
	}
	if req.ContentType == "" {
		req.ContentType = contentTypeOf(in.Content)
	}
	if req.Requester == "" {
		req.Requester = DefaultRequester
	}
	if req.Network == "" {
		req.Network = r.defaultNetwork
	}

	rec := model.ProvenanceRecord{
		ContentID: req.ContentID,
		Action:    model.ProvenanceVerify,
		Actor:     req.Requester,
		Timestamp: now,
		DataHash:  contentHash,
		Metadata: map[string]any{
			"request_id":        req.ID,
			"verification_type": string(req.VerificationType),
		},
	}
	err = r.inTx(ctx, fx, func(ctx context.Context, repos store.Repos, fx *effects) error {
		if err := repos.Requests.Save(ctx, req); err != nil {
			return fmt.Errorf("save request %s: %w", req.ID, err)
		}
		_, err := r.appendProvenanceLocked(ctx, repos, rec, fx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues(string(req.VerificationType), req.Network.String()).Inc()
	fx.event(Event{
		Type:       EventRequestCreated,
		ContentID:  req.ContentID,
		RequestID:  req.ID,
		OccurredAt: now,
		Payload:    req,
	})
	r.logger.Debug("verification requested",
		"request_id", req.ID,
		"content_id", req.ContentID,
		"verification_type", req.VerificationType,
		"network", req.Network,
	)
	return req, nil
}

// requestID is vr_<fingerprint prefix>_<unix ms>_<random>. The random part
// keeps requests issued in the same millisecond distinct.
func requestID(contentHash string, at time.Time) string {
	prefix := contentHash
	if len(prefix) > idFingerprintPrefix {
		prefix = prefix[:idFingerprintPrefix]
	}
	u := uuid.New()
	return "vr_" + prefix + "_" + strconv.FormatInt(at.UnixMilli(), 10) + "_" + hex.EncodeToString(u[:4])
}

// VerifyContent produces the result for a request. A request that already
// verified returns its stored result unchanged; any other prior result is
// replaced by a fresh simulation.
func (r *Registry) VerifyContent(ctx context.Context, requestID string) (*model.VerificationResult, error) {
	ctx, span := tracing.Tracer("registry").Start(ctx, "registry.VerifyContent",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	var fx effects
	r.mu.Lock()
	res, err := r.verifyLocked(ctx, requestID, &fx)
	r.mu.Unlock()
	r.deliver(ctx, &fx)

	tracing.RecordError(span, err)
	if res != nil {
		span.SetAttributes(
			attribute.String("status", string(res.Status)),
			attribute.Float64("confidence", res.Confidence),
		)
	}
	return res, err
}

func (r *Registry) verifyLocked(ctx context.Context, requestID string, fx *effects) (*model.VerificationResult, error) {
	req, err := r.repos.Requests.Get(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("verify %s: %w", requestID, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", requestID, err)
	}

	prior, err := r.repos.Results.Get(ctx, requestID)
	switch {
	case err == nil && prior.Status == model.StatusVerified:
		metrics.VerificationCacheHits.Inc()
		return prior, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load result %s: %w", requestID, err)
	}

	start := r.now()
	outcome, err := r.oracle.Decide(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", requestID, err)
	}

	status := model.StatusFailed
	if outcome.Verified {
		status = model.StatusVerified
	}
	confidence := clampUnit(outcome.Confidence)

	verificationHash := r.hasher.Sum([]byte(req.ContentHash + "|" + strconv.FormatInt(start.UnixMilli(), 10) + "|" + string(status)))
	tx := r.fabricateTx(verificationHash, req)

	at := r.now()
	evidence := []model.VerificationEvidence{
		{
			Type: model.EvidenceBlockchainTransaction,
			Data: map[string]any{
				"tx":           tx,
				"network":      req.Network.String(),
				"block_number": simulatedBlockNumber(req.Network, start),
			},
			Source:     req.Network.String(),
			Timestamp:  at,
			Confidence: confidence,
		},
		{
			Type: model.EvidenceCryptographicProof,
			Data: map[string]any{
				"content_hash":      req.ContentHash,
				"verification_hash": verificationHash,
				"algorithm":         r.hasher.Name(),
			},
			Source:     "registry:" + r.hasher.Name(),
			Timestamp:  at,
			Confidence: confidence,
		},
	}
	if c, err := r.repos.Contracts.Get(ctx, req.Network); err == nil {
		evidence[0].Data["contract"] = c.Address
	}

	res := &model.VerificationResult{
		RequestID:        req.ID,
		ContentID:        req.ContentID,
		Status:           status,
		VerificationHash: verificationHash,
		BlockchainTx:     tx,
		Confidence:       confidence,
		Evidence:         evidence,
		Timestamp:        at,
	}
	delta := -1.0
	if status == model.StatusVerified {
		delta = 1.0
	}
	err = r.inTx(ctx, fx, func(ctx context.Context, repos store.Repos, fx *effects) error {
		if err := repos.Results.Save(ctx, res); err != nil {
			return fmt.Errorf("save result %s: %w", req.ID, err)
		}
		_, err := r.updateReputationLocked(ctx, repos, req.ContentID, delta, fx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.VerificationsTotal.WithLabelValues(string(status)).Inc()
	metrics.VerificationConfidence.WithLabelValues(string(status)).Observe(confidence)
	metrics.VerificationLatency.Observe(at.Sub(start).Seconds())
	fx.event(Event{
		Type:       EventVerificationComplete,
		ContentID:  res.ContentID,
		RequestID:  res.RequestID,
		OccurredAt: at,
		Payload:    res,
	})
	r.logger.Info("verification completed",
		"request_id", res.RequestID,
		"content_id", res.ContentID,
		"status", res.Status,
		"confidence", res.Confidence,
	)
	return res, nil
}

// fabricateTx derives a symbolic transaction id in the notation of the
// request's network. Nothing is submitted anywhere.
func (r *Registry) fabricateTx(verificationHash string, req *model.VerificationRequest) string {
	sum := r.hasher.Sum([]byte(verificationHash + "|" + req.ID))
	if req.Network.IsEVM() {
		return "0x" + sum
	}
	raw, err := hex.DecodeString(sum)
	if err != nil {
		raw = []byte(sum)
	}
	return base58.Encode(raw)
}

// simulatedBlockNumber approximates the height a network would be at.
func simulatedBlockNumber(n model.Network, at time.Time) int64 {
	var blockTime time.Duration
	switch n {
	case model.NetworkEthereum:
		blockTime = 12 * time.Second
	case model.NetworkPolygon, model.NetworkBase:
		blockTime = 2 * time.Second
	case model.NetworkBSC:
		blockTime = 3 * time.Second
	case model.NetworkArbitrum:
		blockTime = 250 * time.Millisecond
	case model.NetworkSolana:
		blockTime = 400 * time.Millisecond
	default:
		blockTime = time.Second
	}
	return at.UnixMilli() / blockTime.Milliseconds()
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BatchVerify requests and verifies each item in order. Items that fail are
// logged and left out, so the result may be shorter than items.
func (r *Registry) BatchVerify(ctx context.Context, items []BatchItem) []*model.VerificationResult {
	ctx, span := tracing.Tracer("registry").Start(ctx, "registry.BatchVerify",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	results := make([]*model.VerificationResult, 0, len(items))
	failed := 0
	for i, item := range items {
		res, err := r.verifyItem(ctx, item)
		if err != nil {
			failed++
			metrics.BatchItemsFailed.Inc()
			r.logger.Warn("batch item failed",
				"index", i,
				"content_id", item.ContentID,
				"error", err,
			)
			continue
		}
		results = append(results, res)
	}

	span.SetAttributes(attribute.Int("failed", failed))
	if failed > 0 {
		a := alert.Alert{
			Type:    alert.AlertTypeBatchDegraded,
			Subject: "batch",
			Title:   "Batch verification dropped items",
			Message: fmt.Sprintf("%d of %d batch items failed", failed, len(items)),
			Fields: map[string]string{
				"failed": strconv.Itoa(failed),
				"total":  strconv.Itoa(len(items)),
			},
		}
		if err := r.alerter.Send(ctx, a); err != nil {
			r.logger.Warn("alert delivery failed", "type", a.Type, "error", err)
		}
	}
	return results
}

func (r *Registry) verifyItem(ctx context.Context, item BatchItem) (*model.VerificationResult, error) {
	var fx effects
	defer r.deliver(ctx, &fx)

	r.mu.Lock()
	defer r.mu.Unlock()
	req, err := r.requestLocked(ctx, item, &fx)
	if err != nil {
		return nil, err
	}
	return r.verifyLocked(ctx, req.ID, &fx)
}

// GetVerificationStatus returns the stored result for a request, or a
// pending placeholder if it has not been verified yet.
func (r *Registry) GetVerificationStatus(ctx context.Context, requestID string) (*model.VerificationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, err := r.repos.Requests.Get(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("status %s: %w", requestID, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", requestID, err)
	}

	res, err := r.repos.Results.Get(ctx, requestID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load result %s: %w", requestID, err)
	}
	return &model.VerificationResult{
		RequestID: req.ID,
		ContentID: req.ContentID,
		Status:    model.StatusPending,
		Evidence:  []model.VerificationEvidence{},
		Timestamp: req.Timestamp,
	}, nil
}

// GetVerificationHistory returns every stored result for a content id,
// newest first.
func (r *Registry) GetVerificationHistory(ctx context.Context, contentID string) ([]model.VerificationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results, err := r.repos.Results.ListByContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", contentID, err)
	}
	if results == nil {
		results = []model.VerificationResult{}
	}
	return results, nil
}
