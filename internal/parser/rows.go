package parser

import (
	"errors"
	"strings"

	"sheetsink/internal/models"
)

// Sentinel errors surfaced to the upload handler before any persistence.
// Use errors.Is() to check for these in calling code.
var (
	// ErrUnsupportedFormat indicates the upload is not a recognized
	// spreadsheet type. Checked before any I/O.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

	// ErrEmptySource indicates no usable rows remain after normalization.
	ErrEmptySource = errors.New("spreadsheet contains no data")
)

// nullTokens are cell values treated as null in addition to blank strings.
var nullTokens = map[string]struct{}{
	"NULL": {},
	"null": {},
	"None": {},
}

// isNull reports whether a raw cell value carries no data.
func isNull(v string) bool {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return true
	}
	_, ok := nullTokens[trimmed]
	return ok
}

// Normalize turns a declared header row plus raw data rows into clean labels
// and normalized records. Rows whose every field is null are dropped;
// surviving rows keep only their non-null fields (sparse payloads). Sequence
// indexes are assigned densely (1..N) over survivors regardless of how many
// source rows were skipped; owner and job ids are bound later by the
// orchestrator. Returns ErrEmptySource if nothing survives.
func Normalize(declared []string, rows [][]string) ([]string, []models.NormalizedRecord, error) {
	labels := NormalizeLabels(declared)

	records := make([]models.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		payload := make(models.RecordPayload, len(labels))
		for i := 0; i < len(labels) && i < len(row); i++ {
			if isNull(row[i]) {
				continue
			}
			payload[labels[i]] = FormatNumber(strings.TrimSpace(row[i]))
		}
		if len(payload) == 0 {
			continue
		}
		records = append(records, models.NormalizedRecord{
			Payload:       payload,
			SequenceIndex: len(records) + 1,
		})
	}

	if len(records) == 0 {
		return labels, nil, ErrEmptySource
	}
	return labels, records, nil
}
