package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sheetsink/internal/models"
)

// InsertJob creates the job metadata row and returns the generated id. The
// insert commits immediately so callers can hand the id out for polling
// before any record persistence starts.
func (c *Client) InsertJob(ctx context.Context, job *models.IngestionJob) (int64, error) {
	labels, err := json.Marshal(job.ColumnLabels)
	if err != nil {
		return 0, fmt.Errorf("marshal column labels: %w", err)
	}

	var id int64
	var createdAt time.Time
	err = c.pool.QueryRow(ctx, `
		INSERT INTO sheet_jobs (owner_id, source_name, uploaded_by, declared_row_count, column_labels)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, job.OwnerID, job.SourceName, job.UploadedBy, job.DeclaredRowCount, labels).Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	job.ID = id
	job.CreatedAt = createdAt
	return id, nil
}

// GetJob retrieves job metadata by id. Returns ErrNotFound for unknown ids.
func (c *Client) GetJob(ctx context.Context, id int64) (*models.IngestionJob, error) {
	var job models.IngestionJob
	var labels []byte
	err := c.pool.QueryRow(ctx, `
		SELECT id, owner_id, source_name, uploaded_by, declared_row_count, column_labels, created_at
		FROM sheet_jobs WHERE id = $1
	`, id).Scan(&job.ID, &job.OwnerID, &job.SourceName, &job.UploadedBy,
		&job.DeclaredRowCount, &labels, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if err := json.Unmarshal(labels, &job.ColumnLabels); err != nil {
		return nil, fmt.Errorf("unmarshal column labels: %w", err)
	}
	return &job, nil
}

// CountRecords returns how many records a job has persisted. Used by the CLI
// jobs command; the hot path never queries this.
func (c *Client) CountRecords(ctx context.Context, jobID int64) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM sheet_records WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// PersistRecords writes all records in fixed-size batches, one CopyFrom round
// trip per batch, inside a single transaction on a single pooled connection.
// onBatch is invoked after each successful batch with the cumulative row
// count. Any failure rolls back every batch; nothing partial is retained.
func (c *Client) PersistRecords(ctx context.Context, records []models.NormalizedRecord, batchSize int, onBatch func(written int)) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	// One connection for the whole run, released exactly once.
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// No-op after a successful commit.
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now()
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"sheet_records"},
			[]string{"owner_id", "job_id", "payload", "sequence_index", "created_at"},
			pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
				rec := batch[i]
				payload, err := json.Marshal(rec.Payload)
				if err != nil {
					return nil, fmt.Errorf("marshal payload %d: %w", rec.SequenceIndex, err)
				}
				return []any{rec.OwnerID, rec.JobID, payload, rec.SequenceIndex, now}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy batch at row %d: %w", start, err)
		}
		if copied != int64(len(batch)) {
			return fmt.Errorf("copy batch at row %d: wrote %d of %d rows", start, copied, len(batch))
		}

		onBatch(end)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
