// Package service provides the ingestion orchestration for sheetsink.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sheetsink/internal/metrics"
	"sheetsink/internal/models"
	"sheetsink/internal/notify"
	"sheetsink/internal/parser"
	"sheetsink/internal/progress"
)

// DefaultBatchSize is how many records go into one bulk-insert round trip.
const DefaultBatchSize = 5000

// Storage is the persistence contract the orchestrator depends on.
// *db.Client satisfies it; tests inject fakes.
type Storage interface {
	// InsertJob creates the job metadata row, committed immediately, and
	// returns the generated id.
	InsertJob(ctx context.Context, job *models.IngestionJob) (int64, error)

	// PersistRecords writes records in fixed-size batches inside a single
	// transaction, invoking onBatch with the cumulative count after each
	// successful batch. A failure on any batch retains nothing.
	PersistRecords(ctx context.Context, records []models.NormalizedRecord, batchSize int, onBatch func(written int)) error
}

// Decoder extracts the declared labels and raw data rows from a staged
// spreadsheet file.
type Decoder func(path string) (declared []string, rows [][]string, err error)

// Upload is a received spreadsheet plus its identifying parameters.
type Upload struct {
	Reader     io.Reader
	Filename   string
	OwnerID    int64
	UploadedBy string
	AuthToken  string
}

// Receipt is the immediate acknowledgment returned to the caller while
// persistence continues in the background.
type Receipt struct {
	JobID       int64
	RecordCount int
	ColumnCount int
}

// Orchestrator coordinates one ingestion run: synchronous validation,
// staging, decoding, normalization and job creation on the caller's
// goroutine, then batched persistence on the worker pool.
type Orchestrator struct {
	storage   Storage
	decode    Decoder
	progress  *progress.Store
	notifier  notify.Notifier
	pool      *Pool
	collector *metrics.Collector
	batchSize int
	tempDir   string
	logger    *slog.Logger
}

// Options configures an Orchestrator.
type Options struct {
	BatchSize int
	TempDir   string // defaults to the system temp dir
	Decoder   Decoder
	Collector *metrics.Collector
	Logger    *slog.Logger
}

// NewOrchestrator wires the ingestion pipeline together.
func NewOrchestrator(storage Storage, store *progress.Store, notifier notify.Notifier, pool *Pool, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Decoder == nil {
		opts.Decoder = parser.DecodeFirstSheet
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Orchestrator{
		storage:   storage,
		decode:    opts.Decoder,
		progress:  store,
		notifier:  notifier,
		pool:      pool,
		collector: opts.Collector,
		batchSize: opts.BatchSize,
		tempDir:   opts.TempDir,
		logger:    opts.Logger,
	}
}

// Start runs the synchronous half of an ingestion: validate, stage, decode,
// normalize, create the job row, register initial progress, then hand the
// records to the worker pool. The returned receipt carries the job id the
// caller polls with; persistence has usually not finished when it returns.
func (o *Orchestrator) Start(ctx context.Context, up Upload) (*Receipt, error) {
	if err := parser.ValidateExtension(up.Filename); err != nil {
		return nil, err
	}

	stagedPath, err := o.stage(up)
	if err != nil {
		return nil, err
	}

	decodeStart := time.Now()
	declared, rows, err := o.decode(stagedPath)
	if err != nil {
		os.Remove(stagedPath)
		return nil, err
	}
	o.collector.RecordTiming(metrics.OpDecode, time.Since(decodeStart))

	normalizeStart := time.Now()
	labels, records, err := parser.Normalize(declared, rows)
	if err != nil {
		os.Remove(stagedPath)
		return nil, err
	}
	o.collector.RecordRows(metrics.OpNormalize, time.Since(normalizeStart), int64(len(records)))

	job := &models.IngestionJob{
		OwnerID:          up.OwnerID,
		SourceName:       up.Filename,
		UploadedBy:       up.UploadedBy,
		DeclaredRowCount: len(rows),
		ColumnLabels:     labels,
	}

	insertStart := time.Now()
	jobID, err := o.storage.InsertJob(ctx, job)
	if err != nil {
		os.Remove(stagedPath)
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.collector.RecordTiming(metrics.OpInsertJob, time.Since(insertStart))
	job.ID = jobID

	for i := range records {
		records[i].OwnerID = up.OwnerID
		records[i].JobID = jobID
	}

	// The id is registered before the pool task is queued: the caller starts
	// polling the moment this returns.
	o.progress.Register(jobID, len(records))

	o.logger.Info("ingestion job accepted",
		"job_id", jobID, "owner_id", up.OwnerID, "source", up.Filename,
		"declared_rows", len(rows), "records", len(records), "columns", len(labels))

	authToken := up.AuthToken
	o.pool.Submit(func() {
		o.runPersistence(job, records, stagedPath, authToken)
	})

	return &Receipt{
		JobID:       jobID,
		RecordCount: len(records),
		ColumnCount: len(labels),
	}, nil
}

// Inspect reports the normalized column labels and declared row count of an
// upload without creating a job or persisting anything.
func (o *Orchestrator) Inspect(up Upload) ([]string, int, error) {
	if err := parser.ValidateExtension(up.Filename); err != nil {
		return nil, 0, err
	}

	stagedPath, err := o.stage(up)
	if err != nil {
		return nil, 0, err
	}
	defer os.Remove(stagedPath)

	declared, rows, err := o.decode(stagedPath)
	if err != nil {
		return nil, 0, err
	}
	return parser.NormalizeLabels(declared), len(rows), nil
}

// stage copies the upload to a randomly named temp file so decoding can use
// random access instead of a single forward stream.
func (o *Orchestrator) stage(up Upload) (string, error) {
	ext := strings.ToLower(filepath.Ext(up.Filename))
	f, err := os.CreateTemp(o.tempDir, "sheetsink-"+uuid.NewString()+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}

	if _, err := io.Copy(f, up.Reader); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return f.Name(), nil
}

// IsRejection reports whether err is a caller mistake (bad format, empty
// source) rather than a service failure.
func IsRejection(err error) bool {
	return errors.Is(err, parser.ErrUnsupportedFormat) || errors.Is(err, parser.ErrEmptySource)
}
