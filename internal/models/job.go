// Package models defines data structures for sheetsink ingestion runs.
package models

import "time"

// IngestionJob is the metadata row created synchronously when an upload is
// accepted. It is immutable after creation; record retention and deletion are
// handled outside this service.
type IngestionJob struct {
	ID               int64     `json:"jobId"`
	OwnerID          int64     `json:"ownerId"`
	SourceName       string    `json:"sourceName"`
	UploadedBy       string    `json:"uploadedBy"`
	DeclaredRowCount int       `json:"declaredRowCount"`
	ColumnLabels     []string  `json:"columnLabels"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RecordPayload maps a normalized column label to the cell value. Null and
// blank cells are never stored; payloads are sparse, not padded.
type RecordPayload map[string]string

// NormalizedRecord is one surviving spreadsheet row bound to its job.
// SequenceIndex is 1-based and dense over surviving rows only.
type NormalizedRecord struct {
	OwnerID       int64         `json:"ownerId"`
	JobID         int64         `json:"jobId"`
	Payload       RecordPayload `json:"payload"`
	SequenceIndex int           `json:"sequenceIndex"`
}
