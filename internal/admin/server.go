package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/metrics"
	"github.com/emperorhan/verification-registry/internal/registry"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// maxBatchItems bounds a single batch call.
const maxBatchItems = 500

// maxCleanupAgeDays keeps max_age_days well inside time.Duration's range.
const maxCleanupAgeDays = 36500

// Registry is the subset of *registry.Registry the API serves.
type Registry interface {
	RequestVerification(ctx context.Context, in registry.RequestInput) (*model.VerificationRequest, error)
	VerifyContent(ctx context.Context, requestID string) (*model.VerificationResult, error)
	BatchVerify(ctx context.Context, items []registry.BatchItem) []*model.VerificationResult
	GetVerificationStatus(ctx context.Context, requestID string) (*model.VerificationResult, error)
	GetVerificationHistory(ctx context.Context, contentID string) ([]model.VerificationResult, error)
	AddProvenanceRecord(ctx context.Context, rec model.ProvenanceRecord) (*model.ProvenanceRecord, error)
	GetProvenance(ctx context.Context, contentID string) ([]model.ProvenanceRecord, error)
	VerifyProvenanceChain(ctx context.Context, contentID string) error
	GetReputation(ctx context.Context, entityID string) (model.ReputationScore, error)
	AddSmartContract(ctx context.Context, c model.VerificationSmartContract) error
	GetSmartContract(ctx context.Context, network model.Network) (*model.VerificationSmartContract, bool, error)
	GetStats(ctx context.Context) (registry.Stats, error)
	GenerateVerificationReport(ctx context.Context, filter registry.ReportFilter) (registry.Report, error)
	CleanupOldData(ctx context.Context, maxAge time.Duration) (registry.CleanupResult, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

// Server exposes the registry over HTTP.
type Server struct {
	registry         Registry
	defaultRetention time.Duration
	checks           map[string]HealthChecker
	logger           *slog.Logger
}

// NewServer creates a new API server.
func NewServer(reg Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry:         reg,
		defaultRetention: registry.DefaultRetention,
		checks:           make(map[string]HealthChecker),
		logger:           logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the API server.
type ServerOption func(*Server)

// WithDefaultRetention sets the max age used by cleanup calls that name none.
func WithDefaultRetention(d time.Duration) ServerOption {
	return func(s *Server) { s.defaultRetention = d }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthChecker) ServerOption {
	return func(s *Server) { s.checks[name] = check }
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /healthz", s.handleHealth)

	s.handle(mux, "POST /api/v1/requests", s.handleRequestVerification)
	s.handle(mux, "GET /api/v1/requests/{id}", s.handleGetStatus)
	s.handle(mux, "POST /api/v1/requests/{id}/verify", s.handleVerify)
	s.handle(mux, "POST /api/v1/batch", s.handleBatch)

	s.handle(mux, "GET /api/v1/content/{contentID}/history", s.handleHistory)
	s.handle(mux, "GET /api/v1/content/{contentID}/provenance", s.handleGetProvenance)
	s.handle(mux, "POST /api/v1/content/{contentID}/provenance", s.handleAddProvenance)

	s.handle(mux, "GET /api/v1/reputation/{entityID}", s.handleReputation)

	s.handle(mux, "GET /api/v1/contracts/{network}", s.handleGetContract)
	s.handle(mux, "PUT /api/v1/contracts/{network}", s.handlePutContract)

	s.handle(mux, "GET /api/v1/stats", s.handleStats)
	s.handle(mux, "GET /api/v1/report", s.handleReport)
	s.handle(mux, "POST /api/v1/cleanup", s.handleCleanup)
	return mux
}

// handle registers h and counts responses under its pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(sw, r)
		metrics.APIRequestsTotal.WithLabelValues(pattern, strconv.Itoa(sw.statusCode)).Inc()
	}))
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps registry errors onto status codes. Unexpected errors are
// logged and hidden from the client.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, registry.ErrRequestNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidRequest):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrBrokenChain):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "dependencies": deps})
}

// --- Verification endpoints ---

type verificationRequestBody struct {
	ContentID        string          `json:"content_id"`
	Content          json.RawMessage `json:"content"`
	VerificationType string          `json:"verification_type"`
	ContentType      string          `json:"content_type"`
	Metadata         map[string]any  `json:"metadata"`
	Requester        string          `json:"requester"`
	Network          string          `json:"network"`
}

// input converts the body. A JSON string is fingerprinted as its text; any
// other JSON value is fingerprinted in compact form.
func (b verificationRequestBody) input() registry.RequestInput {
	in := registry.RequestInput{
		ContentID:        b.ContentID,
		VerificationType: model.VerificationType(b.VerificationType),
		ContentType:      model.ContentType(b.ContentType),
		Metadata:         b.Metadata,
		Requester:        b.Requester,
		Network:          model.Network(b.Network),
	}
	if len(b.Content) == 0 || string(b.Content) == "null" {
		return in
	}
	var text string
	if err := json.Unmarshal(b.Content, &text); err == nil {
		in.Content = text
		return in
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, b.Content); err == nil {
		in.Content = json.RawMessage(compact.Bytes())
	} else {
		in.Content = b.Content
	}
	if in.ContentType == "" {
		in.ContentType = model.ContentTypeJSON
	}
	return in
}

func (s *Server) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var body verificationRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}

	req, err := s.registry.RequestVerification(r.Context(), body.input())
	if err != nil {
		s.writeError(w, "request verification", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.GetVerificationStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "get verification status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.VerifyContent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "verify content", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequestBody struct {
	Items []verificationRequestBody `json:"items"`
}

type batchResponse struct {
	Requested int                         `json:"requested"`
	Succeeded int                         `json:"succeeded"`
	Results   []*model.VerificationResult `json:"results"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if len(body.Items) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(body.Items) > maxBatchItems {
		writeErrorMessage(w, http.StatusBadRequest, "too many items (max "+strconv.Itoa(maxBatchItems)+")")
		return
	}

	items := make([]registry.BatchItem, len(body.Items))
	for i, it := range body.Items {
		items[i] = it.input()
	}
	results := s.registry.BatchVerify(r.Context(), items)

	writeJSON(w, http.StatusOK, batchResponse{
		Requested: len(items),
		Succeeded: len(results),
		Results:   results,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.registry.GetVerificationHistory(r.Context(), r.PathValue("contentID"))
	if err != nil {
		s.writeError(w, "get verification history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Provenance endpoints ---

type provenanceResponse struct {
	ContentID  string                   `json:"content_id"`
	Records    []model.ProvenanceRecord `json:"records"`
	ChainValid *bool                    `json:"chain_valid,omitempty"`
	ChainError string                   `json:"chain_error,omitempty"`
}

func (s *Server) handleGetProvenance(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("contentID")
	records, err := s.registry.GetProvenance(r.Context(), contentID)
	if err != nil {
		s.writeError(w, "get provenance", err)
		return
	}

	resp := provenanceResponse{ContentID: contentID, Records: records}
	if verify, _ := strconv.ParseBool(r.URL.Query().Get("verify")); verify {
		valid := true
		if err := s.registry.VerifyProvenanceChain(r.Context(), contentID); err != nil {
			if !errors.Is(err, registry.ErrBrokenChain) {
				s.writeError(w, "verify provenance chain", err)
				return
			}
			valid = false
			resp.ChainError = err.Error()
		}
		resp.ChainValid = &valid
	}
	writeJSON(w, http.StatusOK, resp)
}

type provenanceRequestBody struct {
	Action           string         `json:"action"`
	Actor            string         `json:"actor"`
	DataHash         string         `json:"data_hash"`
	PreviousRecordID string         `json:"previous_record_id"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleAddProvenance(w http.ResponseWriter, r *http.Request) {
	var body provenanceRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}

	rec, err := s.registry.AddProvenanceRecord(r.Context(), model.ProvenanceRecord{
		ContentID:        r.PathValue("contentID"),
		Action:           model.ProvenanceAction(body.Action),
		Actor:            body.Actor,
		DataHash:         body.DataHash,
		PreviousRecordID: body.PreviousRecordID,
		Metadata:         body.Metadata,
	})
	if err != nil {
		s.writeError(w, "add provenance record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// --- Reputation, contracts ---

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	score, err := s.registry.GetReputation(r.Context(), r.PathValue("entityID"))
	if err != nil {
		s.writeError(w, "get reputation", err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, ok, err := s.registry.GetSmartContract(r.Context(), model.Network(r.PathValue("network")))
	if err != nil {
		s.writeError(w, "get smart contract", err)
		return
	}
	if !ok {
		writeErrorMessage(w, http.StatusNotFound, "no contract registered for network")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePutContract(w http.ResponseWriter, r *http.Request) {
	var c model.VerificationSmartContract
	if !decodeJSONBody(w, r, &c) {
		return
	}
	c.Network = model.Network(r.PathValue("network"))

	if err := s.registry.AddSmartContract(r.Context(), c); err != nil {
		s.writeError(w, "add smart contract", err)
		return
	}
	s.logger.Info("smart contract registered via API", "network", c.Network, "address", c.Address)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Reporting & maintenance ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.GetStats(r.Context())
	if err != nil {
		s.writeError(w, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.ReportFilter{ContentID: q.Get("content_id")}

	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		if start == "" || end == "" {
			writeErrorMessage(w, http.StatusBadRequest, "start and end must be given together")
			return
		}
		from, err := time.Parse(time.RFC3339, start)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, end)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		if to.Before(from) {
			writeErrorMessage(w, http.StatusBadRequest, "end is before start")
			return
		}
		filter.Timeframe = &registry.TimeRange{Start: from, End: to}
	}

	report, err := s.registry.GenerateVerificationReport(r.Context(), filter)
	if err != nil {
		s.writeError(w, "generate report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type cleanupRequestBody struct {
	MaxAgeDays *float64 `json:"max_age_days"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body cleanupRequestBody
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &body) {
			return
		}
	}

	maxAge := s.defaultRetention
	if body.MaxAgeDays != nil {
		if *body.MaxAgeDays < 0 {
			writeErrorMessage(w, http.StatusBadRequest, "max_age_days must not be negative")
			return
		}
		if *body.MaxAgeDays > maxCleanupAgeDays {
			writeErrorMessage(w, http.StatusBadRequest, "max_age_days must be at most "+strconv.Itoa(maxCleanupAgeDays))
			return
		}
		maxAge = time.Duration(*body.MaxAgeDays * float64(24*time.Hour))
	}

	res, err := s.registry.CleanupOldData(r.Context(), maxAge)
	if err != nil {
		s.writeError(w, "cleanup", err)
		return
	}
	s.logger.Info("cleanup triggered via API",
		"requests_deleted", res.RequestsDeleted,
		"results_deleted", res.ResultsDeleted,
	)
	writeJSON(w, http.StatusOK, res)
}
