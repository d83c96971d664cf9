package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
)

// querier is satisfied by both *DB and *sql.Tx, so every repository can
// run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewRepos wires every repository to db. Tx runs work in a database
// transaction.
func NewRepos(db *DB) store.Repos {
	repos := reposOn(db)
	repos.Tx = NewTransactor(db)
	return repos
}

func reposOn(q querier) store.Repos {
	return store.Repos{
		Requests:   &RequestRepo{db: q},
		Results:    &ResultRepo{db: q},
		Provenance: &ProvenanceRepo{db: q},
		Reputation: &ReputationRepo{db: q},
		Contracts:  &ContractRepo{db: q},
	}
}

type RequestRepo struct {
	db querier
}

func NewRequestRepo(db *DB) *RequestRepo {
	return &RequestRepo{db: db}
}

func (r *RequestRepo) Save(ctx context.Context, req *model.VerificationRequest) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	metadata, err := marshalObject(req.Metadata)
	if err != nil {
		return fmt.Errorf("marshal request metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verification_requests
			(id, content_id, content_hash, content_type, verification_type, metadata, requester, network, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.ContentID, req.ContentHash, req.ContentType, req.VerificationType,
		metadata, req.Requester, req.Network, req.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert verification request: %w", err)
	}
	return nil
}

func (r *RequestRepo) Get(ctx context.Context, id string) (*model.VerificationRequest, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		req      model.VerificationRequest
		metadata []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, content_id, content_hash, content_type, verification_type, metadata, requester, network, created_at
		FROM verification_requests
		WHERE id = $1
	`, id).Scan(
		&req.ID, &req.ContentID, &req.ContentHash, &req.ContentType, &req.VerificationType,
		&metadata, &req.Requester, &req.Network, &req.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification request: %w", err)
	}
	if err := unmarshalObject(metadata, &req.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal request metadata: %w", err)
	}
	return &req, nil
}

func (r *RequestRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count verification requests: %w", err)
	}
	return n, nil
}

func (r *RequestRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM verification_requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete verification request: %w", err)
	}
	return nil
}

func (r *RequestRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_requests WHERE created_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete verification requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type ResultRepo struct {
	db querier
}

func NewResultRepo(db *DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// Save upserts by request id.
func (r *ResultRepo) Save(ctx context.Context, res *model.VerificationResult) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	evidence, err := json.Marshal(nonNilEvidence(res.Evidence))
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verification_results
			(request_id, content_id, status, verification_hash, blockchain_tx, confidence, evidence, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO UPDATE SET
			status            = EXCLUDED.status,
			verification_hash = EXCLUDED.verification_hash,
			blockchain_tx     = EXCLUDED.blockchain_tx,
			confidence        = EXCLUDED.confidence,
			evidence          = EXCLUDED.evidence,
			verified_at       = EXCLUDED.verified_at
	`, res.RequestID, res.ContentID, res.Status, res.VerificationHash, res.BlockchainTx,
		res.Confidence, evidence, res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert verification result: %w", err)
	}
	return nil
}

const resultColumns = `request_id, content_id, status, verification_hash, blockchain_tx, confidence, evidence, verified_at`

func (r *ResultRepo) Get(ctx context.Context, requestID string) (*model.VerificationResult, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM verification_results WHERE request_id = $1`, requestID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification result: %w", err)
	}
	return res, nil
}

func (r *ResultRepo) List(ctx context.Context) ([]model.VerificationResult, error) {
	return r.query(ctx, `SELECT `+resultColumns+` FROM verification_results ORDER BY verified_at DESC, request_id ASC`)
}

func (r *ResultRepo) ListByContent(ctx context.Context, contentID string) ([]model.VerificationResult, error) {
	return r.query(ctx, `
		SELECT `+resultColumns+`
		FROM verification_results
		WHERE content_id = $1
		ORDER BY verified_at DESC, request_id ASC
	`, contentID)
}

func (r *ResultRepo) query(ctx context.Context, q string, args ...any) ([]model.VerificationResult, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query verification results: %w", err)
	}
	defer rows.Close()

	out := make([]model.VerificationResult, 0)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification result: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification results: %w", err)
	}
	return out, nil
}

func (r *ResultRepo) Delete(ctx context.Context, requestID string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM verification_results WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("delete verification result: %w", err)
	}
	return nil
}

func (r *ResultRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_results WHERE verified_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete verification results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*model.VerificationResult, error) {
	var (
		res      model.VerificationResult
		evidence []byte
	)
	if err := row.Scan(
		&res.RequestID, &res.ContentID, &res.Status, &res.VerificationHash,
		&res.BlockchainTx, &res.Confidence, &evidence, &res.Timestamp,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evidence, &res.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return &res, nil
}

func nonNilEvidence(ev []model.VerificationEvidence) []model.VerificationEvidence {
	if ev == nil {
		return []model.VerificationEvidence{}
	}
	return ev
}

func marshalObject(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// unmarshalObject leaves dst nil for an empty object.
func unmarshalObject(raw []byte, dst *map[string]any) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}
