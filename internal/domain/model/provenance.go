package model

import (
	"maps"
	"time"
)

type ProvenanceAction string

const (
	ProvenanceCreate   ProvenanceAction = "create"
	ProvenanceModify   ProvenanceAction = "modify"
	ProvenanceTransfer ProvenanceAction = "transfer"
	ProvenanceVerify   ProvenanceAction = "verify"
)

// ProvenanceRecord is one append-only lifecycle entry for a content id.
// PreviousRecordID links the entry to its predecessor in the same chain.
type ProvenanceRecord struct {
	ID               string           `json:"id"`
	ContentID        string           `json:"content_id"`
	Action           ProvenanceAction `json:"action"`
	Actor            string           `json:"actor"`
	Timestamp        time.Time        `json:"timestamp"`
	DataHash         string           `json:"data_hash"`
	PreviousRecordID string           `json:"previous_record_id,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// Clone returns a copy of rec that shares no maps with it.
func (rec ProvenanceRecord) Clone() ProvenanceRecord {
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec
}
