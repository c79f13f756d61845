package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"shr_parser/internal/geo"
	"shr_parser/internal/normalizer"
	_ "shr_parser/internal/parsers" // register all parsers via init()
	"shr_parser/internal/registry"
	"shr_parser/internal/storage"
	"shr_parser/internal/workbook"
)

// memStore is an in-memory storage.Store for pipeline tests. It enforces the
// same natural-key dedup and write-once terminal transition as the real
// backends.
type memStore struct {
	mu        sync.Mutex
	flights   map[string]storage.FlightRecord
	operators map[string]string
	uavTypes  map[string]string
	jobs      map[string]*storage.UploadJob
	raw       []storage.RawRecord
}

func newMemStore() *memStore {
	return &memStore{
		flights:   make(map[string]storage.FlightRecord),
		operators: make(map[string]string),
		uavTypes:  make(map[string]string),
		jobs:      make(map[string]*storage.UploadJob),
	}
}

func naturalKey(f storage.FlightRecord) string {
	key := f.FlightID
	for _, t := range []*time.Time{f.TakeoffTime, f.LandingTime} {
		key += "|"
		if t != nil {
			key += t.UTC().Format(time.RFC3339)
		}
	}
	return key
}

func (s *memStore) CreateSchema(context.Context) error { return nil }
func (s *memStore) Close() error                       { return nil }

func (s *memStore) UpsertOperator(_ context.Context, code, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[code] = name
	return nil
}

func (s *memStore) UpsertUavType(_ context.Context, code, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uavTypes[code] = name
	return nil
}

func (s *memStore) UpsertFlight(_ context.Context, f storage.FlightRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey(f)
	_, exists := s.flights[key]
	s.flights[key] = f
	return !exists, nil
}

func (s *memStore) InsertRawMessage(_ context.Context, r storage.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, r)
	return nil
}

func (s *memStore) CreateJob(_ context.Context, job storage.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = storage.StatusQueued
	job.CreatedAt = time.Now().UTC()
	s.jobs[job.ID] = &job
	return nil
}

func (s *memStore) StartJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != storage.StatusQueued {
		return fmt.Errorf("job %s is not queued", id)
	}
	now := time.Now().UTC()
	job.Status = storage.StatusRunning
	job.StartedAt = &now
	return nil
}

func (s *memStore) FinishJob(_ context.Context, update storage.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[update.ID]
	if !ok || job.Status != storage.StatusRunning {
		return fmt.Errorf("job %s is not running", update.ID)
	}
	now := time.Now().UTC()
	update.CreatedAt = job.CreatedAt
	update.StartedAt = job.StartedAt
	update.FinishedAt = &now
	*job = update
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*storage.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) MarkStalledJobs(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	n := 0
	for _, job := range s.jobs {
		if job.Status == storage.StatusRunning && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			job.Status = storage.StatusFailed
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpsertRegions(context.Context, []geo.Region) (int, int, error) {
	return 0, 0, nil
}
func (s *memStore) LoadRegions(context.Context) ([]geo.Region, error) { return nil, nil }
func (s *memStore) FlightsMissingRegion(context.Context) ([]geo.FlightPoints, error) {
	return nil, nil
}
func (s *memStore) UpdateFlightRegions(context.Context, int64, *string, *string) error {
	return nil
}

func testPipeline(store storage.Store) *Pipeline {
	log := zap.NewNop()
	return New(store, registry.Default(), normalizer.New(nil, log), Config{
		Workers:      3,
		DetailCap:    20,
		StalledAfter: time.Minute,
	}, log)
}

func testRows(n int, garbageAt int) []workbook.Row {
	rows := make([]workbook.Row, 0, n)
	for i := 1; i <= n; i++ {
		text := fmt.Sprintf(
			"(SHR-ZZZZZ -ZZZZ0705 -ZZZZ0900 -DEP/4408N04308E DEST/4409N04309E DOF/240105 OPR/OPERATOR%d TYP/BLA SID/77721879%02d)",
			i, i)
		if i == garbageAt {
			text = "?????? not a telegram ??????"
		}
		rows = append(rows, workbook.Row{Sheet: "List1", Index: i, Text: text})
	}
	return rows
}

func TestExecutePartialSuccess(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	job, err := p.Execute(context.Background(), "batch.jsonl", testRows(10, 4))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if job.Status != storage.StatusPartial {
		t.Errorf("status = %s, want PARTIAL", job.Status)
	}
	if job.TotalRows != 10 || job.Persisted != 9 || job.Rejected != 1 {
		t.Errorf("counts = total=%d persisted=%d rejected=%d, want 10/9/1",
			job.TotalRows, job.Persisted, job.Rejected)
	}
	if len(store.flights) != 9 {
		t.Errorf("stored flights = %d, want 9", len(store.flights))
	}
	if len(store.raw) != 10 {
		t.Errorf("raw audit rows = %d, want 10", len(store.raw))
	}

	// The rejected row appears in the details with its excerpt.
	if !strings.Contains(job.Details, "not a telegram") {
		t.Errorf("details missing excerpt: %s", job.Details)
	}
	if !strings.Contains(job.Details, `"row":4`) {
		t.Errorf("details missing row number: %s", job.Details)
	}

	// Terminal state is persisted and visible via Status.
	got, err := p.Status(context.Background(), job.ID)
	if err != nil || got == nil {
		t.Fatalf("Status error: %v", err)
	}
	if got.Status != storage.StatusPartial || got.FinishedAt == nil {
		t.Errorf("stored job = %+v", got)
	}
}

func TestExecuteAllPersistedCompletes(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	job, err := p.Execute(context.Background(), "batch.jsonl", testRows(5, 0))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if job.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", job.Status)
	}
	if job.Persisted != 5 || job.Rejected != 0 {
		t.Errorf("counts = %d/%d, want 5/0", job.Persisted, job.Rejected)
	}
}

func TestExecuteAllGarbageFails(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	rows := []workbook.Row{
		{Sheet: "List1", Index: 1, Text: "??????"},
		{Sheet: "List1", Index: 2, Text: "   "},
	}
	job, err := p.Execute(context.Background(), "batch.jsonl", rows)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if job.Status != storage.StatusFailed {
		t.Errorf("status = %s, want FAILED", job.Status)
	}
	if len(store.flights) != 0 {
		t.Errorf("stored flights = %d, want 0", len(store.flights))
	}
}

func TestResubmissionDeduplicates(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)
	rows := testRows(10, 4)

	if _, err := p.Execute(context.Background(), "batch.jsonl", rows); err != nil {
		t.Fatalf("first Execute error: %v", err)
	}
	job, err := p.Execute(context.Background(), "batch.jsonl", rows)
	if err != nil {
		t.Fatalf("second Execute error: %v", err)
	}

	// Same workbook again: rows update in place, never duplicate.
	if len(store.flights) != 9 {
		t.Errorf("stored flights after re-ingest = %d, want 9", len(store.flights))
	}
	if job.Persisted != 9 {
		t.Errorf("persisted = %d, want 9", job.Persisted)
	}
}

func TestSubmitRunsAsync(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	jobID, err := p.Submit(context.Background(), "batch.jsonl", testRows(3, 0))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := p.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Status error: %v", err)
		}
		if job == nil {
			t.Fatal("job disappeared")
		}
		if job.Status == storage.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSweepStalled(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	ctx := context.Background()
	if err := store.CreateJob(ctx, storage.UploadJob{ID: "stuck", Source: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.StartJob(ctx, "stuck"); err != nil {
		t.Fatal(err)
	}
	// Backdate the start beyond the TTL.
	old := time.Now().UTC().Add(-time.Hour)
	store.jobs["stuck"].StartedAt = &old

	n, err := p.SweepStalled(ctx)
	if err != nil {
		t.Fatalf("SweepStalled error: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	job, _ := store.GetJob(ctx, "stuck")
	if job.Status != storage.StatusFailed {
		t.Errorf("status = %s, want FAILED", job.Status)
	}

	// The terminal transition is write-once: the late worker cannot
	// overwrite the swept result.
	err = store.FinishJob(ctx, storage.UploadJob{ID: "stuck", Status: storage.StatusCompleted})
	if err == nil {
		t.Error("FinishJob overwrote a terminal state")
	}
}

func TestSplitTelegrams(t *testing.T) {
	text := "(SHR-ZZZZZ -DOF/240105 SID/1)\n\n(-TITLE IDEP -SID 1 -ADD 240105 -ATD 0705)"
	parts := splitTelegrams(text)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2: %q", len(parts), parts)
	}
	if !strings.HasPrefix(parts[1], "(-TITLE IDEP") {
		t.Errorf("second part = %q", parts[1])
	}
}

func TestRowWithReportsMergesActual(t *testing.T) {
	store := newMemStore()
	p := testPipeline(store)

	row := workbook.Row{
		Sheet: "List1",
		Index: 1,
		Text: "(SHR-ZZZZZ -ZZZZ0705 -ZZZZ0900 -DEP/4408N04308E DEST/4409N04309E DOF/240105 SID/42)\n\n" +
			"(-TITLE IDEP -SID 42 -ADD 240105 -ATD 0712)\n\n" +
			"(-TITLE IARR -SID 42 -ADA 240105 -ATA 0920)",
	}

	flight, reason := p.ParseRow(row)
	if reason != "" {
		t.Fatalf("rejected: %s", reason)
	}
	if flight.TimeSource != normalizer.TimeSourceActual {
		t.Errorf("time source = %s, want actual", flight.TimeSource)
	}
	wantTakeoff := time.Date(2024, 1, 5, 7, 12, 0, 0, time.UTC)
	wantLanding := time.Date(2024, 1, 5, 9, 20, 0, 0, time.UTC)
	if flight.TakeoffTime == nil || !flight.TakeoffTime.Equal(wantTakeoff) {
		t.Errorf("takeoff = %v, want %v", flight.TakeoffTime, wantTakeoff)
	}
	if flight.LandingTime == nil || !flight.LandingTime.Equal(wantLanding) {
		t.Errorf("landing = %v, want %v", flight.LandingTime, wantLanding)
	}
}
