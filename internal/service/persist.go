package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"sheetsink/internal/metrics"
	"sheetsink/internal/models"
	"sheetsink/internal/notify"
	"sheetsink/internal/progress"
)

// runPersistence is the background half of an ingestion. It is the only
// writer of terminal progress state for its job and owns cleanup of the
// staged file on every exit path, including panics.
func (o *Orchestrator) runPersistence(job *models.IngestionJob, records []models.NormalizedRecord, stagedPath, authToken string) {
	defer os.Remove(stagedPath)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("persistence panicked", "job_id", job.ID, "panic", r)
			o.fail(job, len(records), authToken, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// The triggering request has already returned; this run carries its own
	// lifetime.
	ctx := context.Background()
	total := len(records)
	start := time.Now()

	onBatch := func(written int) {
		o.progress.Advance(job.ID, written, total)
		o.notifier.Notify(notify.Event{
			JobID:      job.ID,
			OwnerID:    job.OwnerID,
			Progress:   progress.Percent(written, total),
			Total:      total,
			Processed:  written,
			Status:     string(progress.StatusProcessing),
			SourceName: job.SourceName,
			AuthToken:  authToken,
		})
		o.logger.Debug("batch persisted", "job_id", job.ID, "processed", written, "total", total)
	}

	if err := o.storage.PersistRecords(ctx, records, o.batchSize, onBatch); err != nil {
		o.logger.Error("persistence failed, rolled back", "job_id", job.ID, "error", err)
		o.fail(job, total, authToken, err.Error())
		return
	}

	elapsed := time.Since(start)
	o.collector.RecordRows(metrics.OpPersist, elapsed, int64(total))

	o.progress.Complete(job.ID, total)
	o.notifier.Notify(notify.Event{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Progress:   100,
		Total:      total,
		Processed:  total,
		Status:     string(progress.StatusCompleted),
		SourceName: job.SourceName,
		AuthToken:  authToken,
	})
	o.logger.Info("ingestion job completed",
		"job_id", job.ID, "records", total, "elapsed", elapsed.Round(time.Millisecond))
}

func (o *Orchestrator) fail(job *models.IngestionJob, total int, authToken, detail string) {
	o.progress.Fail(job.ID, total, detail)
	o.notifier.Notify(notify.Event{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Total:      total,
		Status:     string(progress.StatusError),
		SourceName: job.SourceName,
		AuthToken:  authToken,
	})
}
