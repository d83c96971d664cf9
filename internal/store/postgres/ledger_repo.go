package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/emperorhan/verification-registry/internal/domain/model"
	"github.com/emperorhan/verification-registry/internal/store"
)

type ProvenanceRepo struct {
	db querier
}

func NewProvenanceRepo(db *DB) *ProvenanceRepo {
	return &ProvenanceRepo{db: db}
}

func (r *ProvenanceRepo) Append(ctx context.Context, rec *model.ProvenanceRecord) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	metadata, err := marshalObject(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal provenance metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO provenance_records
			(id, content_id, action, actor, data_hash, previous_record_id, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ContentID, rec.Action, rec.Actor, rec.DataHash, rec.PreviousRecordID, metadata, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert provenance record: %w", err)
	}
	return nil
}

func (r *ProvenanceRepo) Remove(ctx context.Context, contentID, recordID string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM provenance_records WHERE content_id = $1 AND id = $2`, contentID, recordID); err != nil {
		return fmt.Errorf("remove provenance record: %w", err)
	}
	return nil
}

const provenanceColumns = `id, content_id, action, actor, data_hash, previous_record_id, metadata, recorded_at`

// List returns records in insertion order.
func (r *ProvenanceRepo) List(ctx context.Context, contentID string) ([]model.ProvenanceRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+provenanceColumns+`
		FROM provenance_records
		WHERE content_id = $1
		ORDER BY seq ASC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("query provenance records: %w", err)
	}
	defer rows.Close()

	out := make([]model.ProvenanceRecord, 0)
	for rows.Next() {
		rec, err := scanProvenance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provenance record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance records: %w", err)
	}
	return out, nil
}

func (r *ProvenanceRepo) Last(ctx context.Context, contentID string) (*model.ProvenanceRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+provenanceColumns+`
		FROM provenance_records
		WHERE content_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, contentID)
	rec, err := scanProvenance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last provenance record: %w", err)
	}
	return rec, nil
}

func scanProvenance(row rowScanner) (*model.ProvenanceRecord, error) {
	var (
		rec      model.ProvenanceRecord
		metadata []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.ContentID, &rec.Action, &rec.Actor, &rec.DataHash,
		&rec.PreviousRecordID, &metadata, &rec.Timestamp,
	); err != nil {
		return nil, err
	}
	if err := unmarshalObject(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal provenance metadata: %w", err)
	}
	return &rec, nil
}

type ReputationRepo struct {
	db querier
}

func NewReputationRepo(db *DB) *ReputationRepo {
	return &ReputationRepo{db: db}
}

const reputationColumns = `entity_id, score, confidence, evidence_count, positive_evidence, negative_evidence, total_verifications, last_updated`

func (r *ReputationRepo) Get(ctx context.Context, entityID string) (*model.ReputationScore, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+reputationColumns+` FROM reputation_scores WHERE entity_id = $1`, entityID)
	score, err := scanReputation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	return score, nil
}

func (r *ReputationRepo) Save(ctx context.Context, s *model.ReputationScore) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reputation_scores (`+reputationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_id) DO UPDATE SET
			score               = EXCLUDED.score,
			confidence          = EXCLUDED.confidence,
			evidence_count      = EXCLUDED.evidence_count,
			positive_evidence   = EXCLUDED.positive_evidence,
			negative_evidence   = EXCLUDED.negative_evidence,
			total_verifications = EXCLUDED.total_verifications,
			last_updated        = EXCLUDED.last_updated
	`, s.EntityID, s.Score, s.Confidence, s.EvidenceCount, s.PositiveEvidence,
		s.NegativeEvidence, s.TotalVerifications, s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert reputation: %w", err)
	}
	return nil
}

func (r *ReputationRepo) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM reputation_scores WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("delete reputation: %w", err)
	}
	return nil
}

func (r *ReputationRepo) List(ctx context.Context) ([]model.ReputationScore, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+reputationColumns+` FROM reputation_scores ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("query reputation: %w", err)
	}
	defer rows.Close()

	out := make([]model.ReputationScore, 0)
	for rows.Next() {
		s, err := scanReputation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reputation: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reputation: %w", err)
	}
	return out, nil
}

func (r *ReputationRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reputation_scores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reputation: %w", err)
	}
	return n, nil
}

func scanReputation(row rowScanner) (*model.ReputationScore, error) {
	var s model.ReputationScore
	if err := row.Scan(
		&s.EntityID, &s.Score, &s.Confidence, &s.EvidenceCount, &s.PositiveEvidence,
		&s.NegativeEvidence, &s.TotalVerifications, &s.LastUpdated,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

type ContractRepo struct {
	db querier
}

func NewContractRepo(db *DB) *ContractRepo {
	return &ContractRepo{db: db}
}

func (r *ContractRepo) Save(ctx context.Context, c *model.VerificationSmartContract) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	abi := c.ABI
	if abi == nil {
		abi = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_contracts (network, address, abi, deployed_at, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network) DO UPDATE SET
			address     = EXCLUDED.address,
			abi         = EXCLUDED.abi,
			deployed_at = EXCLUDED.deployed_at,
			version     = EXCLUDED.version
	`, c.Network, c.Address, pq.Array(abi), c.DeployedAt, c.Version)
	if err != nil {
		return fmt.Errorf("upsert verification contract: %w", err)
	}
	return nil
}

func (r *ContractRepo) Get(ctx context.Context, network model.Network) (*model.VerificationSmartContract, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var c model.VerificationSmartContract
	err := r.db.QueryRowContext(ctx, `
		SELECT network, address, abi, deployed_at, version
		FROM verification_contracts
		WHERE network = $1
	`, network).Scan(&c.Network, &c.Address, pq.Array(&c.ABI), &c.DeployedAt, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification contract: %w", err)
	}
	return &c, nil
}
