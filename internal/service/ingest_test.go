package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"sheetsink/internal/models"
	"sheetsink/internal/notify"
	"sheetsink/internal/parser"
	"sheetsink/internal/progress"
)

// fakeStorage implements Storage in memory, honoring the batching contract.
type fakeStorage struct {
	mu         sync.Mutex
	nextID     int64
	insertErr  error
	failBatch  int // 1-based batch number to fail on; 0 = never
	inserted   []*models.IngestionJob
	persisted  []models.NormalizedRecord
	batchSizes []int
}

func (f *fakeStorage) InsertJob(ctx context.Context, job *models.IngestionJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	f.inserted = append(f.inserted, job)
	return f.nextID, nil
}

func (f *fakeStorage) PersistRecords(ctx context.Context, records []models.NormalizedRecord, batchSize int, onBatch func(int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var staged []models.NormalizedRecord
	var sizes []int
	batchNo := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batchNo++
		if f.failBatch == batchNo {
			// Atomicity: nothing from any batch is retained.
			return fmt.Errorf("copy batch at row %d: connection reset", start)
		}
		staged = append(staged, records[start:end]...)
		sizes = append(sizes, end-start)
		onBatch(end)
	}

	f.persisted = append(f.persisted, staged...)
	f.batchSizes = sizes
	return nil
}

// recordingNotifier captures every event in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// staticDecoder ignores the staged file and returns fixed rows.
func staticDecoder(declared []string, rows [][]string) Decoder {
	return func(string) ([]string, [][]string, error) {
		return declared, rows, nil
	}
}

func dataRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{strconv.Itoa(i)}
	}
	return rows
}

type testEnv struct {
	storage  *fakeStorage
	store    *progress.Store
	notifier *recordingNotifier
	pool     *Pool
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, dec Decoder, batchSize int) *testEnv {
	t.Helper()

	env := &testEnv{
		storage:  &fakeStorage{},
		store:    progress.NewStore(time.Minute, nil),
		notifier: &recordingNotifier{},
	}
	env.pool = NewPool(2, nil)
	t.Cleanup(func() {
		env.pool.Close()
		env.store.Close()
	})

	env.orch = NewOrchestrator(env.storage, env.store, env.notifier, env.pool, Options{
		BatchSize: batchSize,
		TempDir:   t.TempDir(),
		Decoder:   dec,
	})
	return env
}

// waitTerminal polls until the job leaves processing or the deadline hits.
func waitTerminal(t *testing.T, store *progress.Store, jobID int64) progress.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := store.Get(jobID)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %d never reached a terminal state", jobID)
	return progress.Snapshot{}
}

func upload(name string) Upload {
	return Upload{
		Reader:     bytes.NewReader([]byte("staged-bytes")),
		Filename:   name,
		OwnerID:    11,
		UploadedBy: "tester@example.com",
		AuthToken:  "tok",
	}
}

func TestStart_RejectsUnsupportedExtension(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"a"}, dataRows(1)), 10)

	_, err := env.orch.Start(context.Background(), upload("data.csv"))
	if !errors.Is(err, parser.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if len(env.storage.inserted) != 0 {
		t.Error("storage must not be touched for a rejected extension")
	}
}

func TestStart_RejectsEmptySource(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"a"}, [][]string{{""}, {"NULL"}}), 10)

	_, err := env.orch.Start(context.Background(), upload("empty.xlsx"))
	if !errors.Is(err, parser.ErrEmptySource) {
		t.Fatalf("err = %v, want ErrEmptySource", err)
	}
	if len(env.storage.inserted) != 0 {
		t.Error("no job row may be created for an empty source")
	}
}

func TestStart_JobCreationFailureSurfacesSynchronously(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"a"}, dataRows(3)), 10)
	env.storage.insertErr = errors.New("connection refused")

	_, err := env.orch.Start(context.Background(), upload("rows.xlsx"))
	if err == nil || IsRejection(err) {
		t.Fatalf("err = %v, want synchronous storage error", err)
	}
}

func TestStart_HappyPath(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"A", "A", "A"}, dataRows(12)), 5)

	rec, err := env.orch.Start(context.Background(), upload("dup.xlsx"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec.JobID != 1 || rec.RecordCount != 12 || rec.ColumnCount != 3 {
		t.Errorf("receipt = %+v", rec)
	}

	// Progress is registered before Start returns.
	if snap := env.store.Get(rec.JobID); snap.Status == progress.StatusNotFound {
		t.Error("progress must be registered before Start returns")
	}

	snap := waitTerminal(t, env.store, rec.JobID)
	if snap.Status != progress.StatusCompleted || snap.Processed != 12 || snap.Percent != 100 {
		t.Errorf("terminal snapshot = %+v", snap)
	}

	job := env.storage.inserted[0]
	want := []string{"A", "A_1", "A_2"}
	for i, l := range want {
		if job.ColumnLabels[i] != l {
			t.Errorf("labels = %v, want %v", job.ColumnLabels, want)
			break
		}
	}

	env.storage.mu.Lock()
	defer env.storage.mu.Unlock()
	if len(env.storage.persisted) != 12 {
		t.Fatalf("persisted %d records, want 12", len(env.storage.persisted))
	}
	for i, r := range env.storage.persisted {
		if r.SequenceIndex != i+1 {
			t.Errorf("record %d sequenceIndex = %d, want %d", i, r.SequenceIndex, i+1)
		}
		if r.JobID != rec.JobID || r.OwnerID != 11 {
			t.Errorf("record %d not bound to job: %+v", i, r)
		}
	}
}

func TestStart_BatchProgressUpdates(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		batchSize int
		want      []int
	}{
		{"remainder batch", 12, 5, []int{5, 10, 12}},
		{"typical upload", 12345, 5000, []int{5000, 10000, 12345}},
		{"exact multiple", 10, 5, []int{5, 10}},
		{"single batch", 3, 5000, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, staticDecoder([]string{"v"}, dataRows(tt.rows)), tt.batchSize)

			rec, err := env.orch.Start(context.Background(), upload("rows.xlsx"))
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitTerminal(t, env.store, rec.JobID)

			var processing []int
			for _, ev := range env.notifier.all() {
				if ev.Status == string(progress.StatusProcessing) {
					processing = append(processing, ev.Processed)
				}
			}
			if len(processing) != len(tt.want) {
				t.Fatalf("processing updates = %v, want %v", processing, tt.want)
			}
			for i := range tt.want {
				if processing[i] != tt.want[i] {
					t.Fatalf("processing updates = %v, want %v", processing, tt.want)
				}
			}

			events := env.notifier.all()
			final := events[len(events)-1]
			if final.Status != string(progress.StatusCompleted) || final.Processed != tt.rows {
				t.Errorf("final event = %+v", final)
			}
			if final.SourceName != "rows.xlsx" || final.OwnerID != 11 {
				t.Errorf("final event identity = %+v", final)
			}
		})
	}
}

func TestStart_BatchFailureIsAtomic(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"v"}, dataRows(12)), 5)
	env.storage.failBatch = 2

	rec, err := env.orch.Start(context.Background(), upload("rows.xlsx"))
	if err != nil {
		t.Fatalf("Start() error = %v, background failures must not surface", err)
	}

	snap := waitTerminal(t, env.store, rec.JobID)
	if snap.Status != progress.StatusError {
		t.Fatalf("status = %q, want error", snap.Status)
	}
	if snap.ErrorDetail == "" {
		t.Error("errorDetail must carry the failure")
	}

	env.storage.mu.Lock()
	defer env.storage.mu.Unlock()
	if len(env.storage.persisted) != 0 {
		t.Errorf("%d records retained after failed run, want 0", len(env.storage.persisted))
	}
}

func TestStart_StagedFileRemovedOnEveryPath(t *testing.T) {
	tests := []struct {
		name string
		dec  Decoder
		fail int
	}{
		{name: "success", dec: staticDecoder([]string{"v"}, dataRows(3))},
		{name: "persist failure", dec: staticDecoder([]string{"v"}, dataRows(3)), fail: 1},
		{name: "empty source", dec: staticDecoder([]string{"v"}, [][]string{{""}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.dec, 5)
			env.storage.failBatch = tt.fail
			tempDir := env.orch.tempDir

			rec, err := env.orch.Start(context.Background(), upload("rows.xlsx"))
			if err == nil {
				waitTerminal(t, env.store, rec.JobID)
			}

			deadline := time.Now().Add(2 * time.Second)
			for {
				entries, globErr := filepath.Glob(filepath.Join(tempDir, "sheetsink-*"))
				if globErr != nil {
					t.Fatalf("glob: %v", globErr)
				}
				if len(entries) == 0 {
					return
				}
				if time.Now().After(deadline) {
					t.Fatalf("staged files left behind: %v", entries)
				}
				time.Sleep(5 * time.Millisecond)
			}
		})
	}
}

func TestStart_MonotonicPolledProgress(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"v"}, dataRows(5000)), 250)

	rec, err := env.orch.Start(context.Background(), upload("big.xlsx"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	last := -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := env.store.Get(rec.JobID)
		if snap.Processed < last {
			t.Fatalf("processed went backwards: %d after %d", snap.Processed, last)
		}
		last = snap.Processed
		if snap.Status.Terminal() {
			return
		}
	}
	t.Fatal("job never finished")
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped after a panicking task")
	}
}

func TestStage_CopiesUploadBytes(t *testing.T) {
	env := newTestEnv(t, staticDecoder([]string{"v"}, dataRows(1)), 5)

	path, err := env.orch.stage(Upload{Reader: bytes.NewReader([]byte("abc")), Filename: "x.xlsx"})
	if err != nil {
		t.Fatalf("stage() error = %v", err)
	}
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("staged content = %q", got)
	}
	if filepath.Ext(path) != ".xlsx" {
		t.Errorf("staged file should keep the source extension, got %q", path)
	}
}
