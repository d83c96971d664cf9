package model

import (
	"maps"
	"time"
)

type VerificationType string

const (
	VerificationTypeAuthenticity VerificationType = "authenticity"
	VerificationTypeOwnership    VerificationType = "ownership"
	VerificationTypeTimestamp    VerificationType = "timestamp"
	VerificationTypeIntegrity    VerificationType = "integrity"
	VerificationTypeProvenance   VerificationType = "provenance"
	VerificationTypeCopyright    VerificationType = "copyright"
	VerificationTypeLicense      VerificationType = "license"
	VerificationTypeReputation   VerificationType = "reputation"
	VerificationTypeCustom       VerificationType = "custom"
)

var verificationTypes = map[VerificationType]bool{
	VerificationTypeAuthenticity: true,
	VerificationTypeOwnership:    true,
	VerificationTypeTimestamp:    true,
	VerificationTypeIntegrity:    true,
	VerificationTypeProvenance:   true,
	VerificationTypeCopyright:    true,
	VerificationTypeLicense:      true,
	VerificationTypeReputation:   true,
	VerificationTypeCustom:       true,
}

// Valid reports whether t is one of the known verification types.
func (t VerificationType) Valid() bool {
	return verificationTypes[t]
}

type VerificationStatus string

const (
	StatusPending       VerificationStatus = "pending"
	StatusVerified      VerificationStatus = "verified"
	StatusFailed        VerificationStatus = "failed"
	StatusDisputed      VerificationStatus = "disputed"
	StatusExpired       VerificationStatus = "expired"
	StatusNotVerifiable VerificationStatus = "not_verifiable"
)

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeJSON   ContentType = "json"
	ContentTypeBinary ContentType = "binary"
)

type EvidenceType string

const (
	EvidenceBlockchainTransaction EvidenceType = "blockchain_transaction"
	EvidenceCryptographicProof    EvidenceType = "cryptographic_proof"
	EvidenceTimestampProof        EvidenceType = "timestamp_proof"
	EvidenceWitnessSignature      EvidenceType = "witness_signature"
	EvidenceCustom                EvidenceType = "custom"
)

// VerificationRequest is created once per RequestVerification call and never
// modified afterwards.
type VerificationRequest struct {
	ID               string           `json:"id"`
	ContentID        string           `json:"content_id"`
	ContentHash      string           `json:"content_hash"`
	ContentType      ContentType      `json:"content_type"`
	VerificationType VerificationType `json:"verification_type"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	Requester        string           `json:"requester"`
	Timestamp        time.Time        `json:"timestamp"`
	Network          Network          `json:"network"`
}

type VerificationEvidence struct {
	Type       EvidenceType   `json:"type"`
	Data       map[string]any `json:"data"`
	Source     string         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	Confidence float64        `json:"confidence"`
}

// VerificationResult is the outcome of verifying one request. Confidence is in [0,1].
type VerificationResult struct {
	RequestID        string                 `json:"request_id"`
	ContentID        string                 `json:"content_id"`
	Status           VerificationStatus     `json:"status"`
	VerificationHash string                 `json:"verification_hash"`
	BlockchainTx     string                 `json:"blockchain_tx"`
	Confidence       float64                `json:"confidence"`
	Evidence         []VerificationEvidence `json:"evidence"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Clone returns a copy of req that shares no maps with it.
func (req VerificationRequest) Clone() VerificationRequest {
	req.Metadata = maps.Clone(req.Metadata)
	return req
}

// Clone returns a copy of res whose evidence slice and data maps are its own.
func (res VerificationResult) Clone() VerificationResult {
	if res.Evidence != nil {
		evidence := make([]VerificationEvidence, len(res.Evidence))
		for i, ev := range res.Evidence {
			ev.Data = maps.Clone(ev.Data)
			evidence[i] = ev
		}
		res.Evidence = evidence
	}
	return res
}
