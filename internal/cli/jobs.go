package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sheetsink/internal/config"
	"sheetsink/internal/db"
	"sheetsink/internal/progress"
)

const pollInterval = time.Second

var (
	jobsServerURL string
	jobsWatch     bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <job-id>",
	Short: "Inspect an ingestion job",
	Long: `Show a job's metadata and persisted record count from the database.

With --watch, polls a running server's progress endpoint until the job
reaches a terminal state.

Examples:
  sheetsink jobs 42
  sheetsink jobs 42 --watch --server http://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsServerURL, "server", "http://localhost:8080", "server base URL for --watch")
	jobsCmd.Flags().BoolVar(&jobsWatch, "watch", false, "poll live progress instead of reading the database")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("job id must be an integer: %q", args[0])
	}

	if jobsWatch {
		return watchJob(jobID)
	}
	return showJob(jobID)
}

func showJob(jobID int64) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := db.NewClient(ctx, db.Config{
		DSN:            cfg.DatabaseURL,
		MaxConns:       2,
		MinConns:       1,
		ConnectTimeout: cfg.ConnectTimeout,
	}, nil)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer client.Close()

	job, err := client.GetJob(ctx, jobID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("job not found: %d", jobID)
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	count, err := client.CountRecords(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}

	fmt.Printf("Job: %d\n", job.ID)
	fmt.Printf("  Source: %s\n", job.SourceName)
	fmt.Printf("  Owner: %d\n", job.OwnerID)
	fmt.Printf("  Uploaded by: %s\n", job.UploadedBy)
	fmt.Printf("  Declared rows: %d\n", job.DeclaredRowCount)
	fmt.Printf("  Persisted records: %d\n", count)
	fmt.Printf("  Columns: %s\n", strings.Join(job.ColumnLabels, ", "))
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	return nil
}

func watchJob(jobID int64) error {
	url := fmt.Sprintf("%s/progress/%d", strings.TrimRight(jobsServerURL, "/"), jobID)
	client := &http.Client{Timeout: 10 * time.Second}

	for {
		snap, err := fetchSnapshot(client, url)
		if err != nil {
			return err
		}

		switch snap.Status {
		case progress.StatusCompleted:
			fmt.Printf("\rcompleted: %d/%d records\n", snap.Processed, snap.Total)
			return nil
		case progress.StatusError:
			fmt.Printf("\rfailed: %s\n", snap.ErrorDetail)
			return fmt.Errorf("job %d failed", jobID)
		case progress.StatusNotFound:
			return fmt.Errorf("job not tracked (finished more than the retention window ago, or never existed): %d", jobID)
		default:
			fmt.Printf("\rprocessing: %d/%d (%.1f%%)", snap.Processed, snap.Total, snap.Percent)
		}

		time.Sleep(pollInterval)
	}
}

func fetchSnapshot(client *http.Client, url string) (progress.Snapshot, error) {
	var snap progress.Snapshot

	resp, err := client.Get(url)
	if err != nil {
		return snap, fmt.Errorf("poll progress: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode progress: %w", err)
	}
	return snap, nil
}
