// Package ingest runs asynchronous workbook ingestion jobs: a bounded worker
// pool parses and normalizes rows while a single aggregator goroutine owns
// the job state and the database writes.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shr_parser/internal/normalizer"
	"shr_parser/internal/registry"
	"shr_parser/internal/storage"
	"shr_parser/internal/telegram"
	"shr_parser/internal/workbook"
)

// Config holds ingestion tuning knobs.
type Config struct {
	Workers      int
	DetailCap    int           // max row errors kept in the job record
	StalledAfter time.Duration // RUNNING jobs older than this are swept to FAILED
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		DetailCap:    20,
		StalledAfter: 30 * time.Minute,
	}
}

// RowError is one rejected row as recorded in the job details.
type RowError struct {
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row"`
	Excerpt string `json:"excerpt"`
	Reason  string `json:"reason"`
}

// Notifier publishes job status transitions to interested consumers.
type Notifier interface {
	PublishJobStatus(ctx context.Context, job storage.UploadJob) error
}

// EventSink receives per-telegram analytics events; storage.ClickHouseDB
// implements it.
type EventSink interface {
	InsertEvents(ctx context.Context, events []storage.TelegramEvent) error
}

// Pipeline executes upload jobs against a state store.
type Pipeline struct {
	store    storage.Store
	registry *registry.Registry
	norm     *normalizer.Normalizer
	cfg      Config
	log      *zap.Logger

	notifier Notifier  // optional
	events   EventSink // optional
}

// New creates a Pipeline.
func New(store storage.Store, reg *registry.Registry, norm *normalizer.Normalizer, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DetailCap < 1 {
		cfg.DetailCap = DefaultConfig().DetailCap
	}
	reg.Sort()
	return &Pipeline{store: store, registry: reg, norm: norm, cfg: cfg, log: log}
}

// SetNotifier attaches a job status publisher.
func (p *Pipeline) SetNotifier(n Notifier) { p.notifier = n }

// SetEventSink attaches a telegram analytics sink.
func (p *Pipeline) SetEventSink(s EventSink) { p.events = s }

// Submit registers a new job and runs it in the background. The returned job
// ID can be polled with Status immediately; the caller's context does not
// cancel the running job.
func (p *Pipeline) Submit(ctx context.Context, source string, rows []workbook.Row) (string, error) {
	jobID := uuid.NewString()
	err := p.store.CreateJob(ctx, storage.UploadJob{
		ID:        jobID,
		Source:    source,
		TotalRows: len(rows),
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	go func() {
		if _, err := p.Run(context.WithoutCancel(ctx), jobID, rows); err != nil {
			p.log.Error("ingest job failed", zap.String("job", jobID), zap.Error(err))
		}
	}()
	return jobID, nil
}

// Execute registers a job and runs it synchronously.
func (p *Pipeline) Execute(ctx context.Context, source string, rows []workbook.Row) (storage.UploadJob, error) {
	jobID := uuid.NewString()
	err := p.store.CreateJob(ctx, storage.UploadJob{
		ID:        jobID,
		Source:    source,
		TotalRows: len(rows),
	})
	if err != nil {
		return storage.UploadJob{}, fmt.Errorf("create job: %w", err)
	}
	return p.Run(ctx, jobID, rows)
}

// Status returns the job record, or nil when the ID is unknown.
func (p *Pipeline) Status(ctx context.Context, jobID string) (*storage.UploadJob, error) {
	return p.store.GetJob(ctx, jobID)
}

// SweepStalled fails RUNNING jobs whose worker died without reporting.
func (p *Pipeline) SweepStalled(ctx context.Context) (int, error) {
	return p.store.MarkStalledJobs(ctx, p.cfg.StalledAfter)
}

// ParseRow parses and merges one row without persisting anything. It returns
// the flight candidate or, when the row is unusable, the rejection reason.
func (p *Pipeline) ParseRow(row workbook.Row) (*normalizer.Flight, string) {
	out := p.processRow(row)
	return out.flight, out.reject
}

type rowOutcome struct {
	row    workbook.Row
	kind   telegram.Kind
	flight *normalizer.Flight
	reject string // non-empty means the row was rejected for this reason
}

// Run executes a previously created job to its terminal state.
func (p *Pipeline) Run(ctx context.Context, jobID string, rows []workbook.Row) (storage.UploadJob, error) {
	if err := p.store.StartJob(ctx, jobID); err != nil {
		return storage.UploadJob{}, fmt.Errorf("start job: %w", err)
	}
	p.log.Info("ingest job started",
		zap.String("job", jobID), zap.Int("rows", len(rows)), zap.Int("workers", p.cfg.Workers))

	outcomes := p.parseRows(ctx, rows)
	job := p.aggregate(ctx, jobID, len(rows), outcomes)

	if err := p.store.FinishJob(ctx, job); err != nil {
		return job, fmt.Errorf("finish job: %w", err)
	}
	p.log.Info("ingest job finished",
		zap.String("job", jobID), zap.String("status", job.Status),
		zap.Int("persisted", job.Persisted), zap.Int("warnings", job.Warnings),
		zap.Int("rejected", job.Rejected))

	if p.notifier != nil {
		if err := p.notifier.PublishJobStatus(ctx, job); err != nil {
			p.log.Warn("publish job status", zap.String("job", jobID), zap.Error(err))
		}
	}
	return job, nil
}

// parseRows fans rows out to the worker pool and returns the outcome channel.
// Workers do the CPU-bound parse and merge; they never touch the database.
func (p *Pipeline) parseRows(ctx context.Context, rows []workbook.Row) <-chan rowOutcome {
	rowCh := make(chan workbook.Row)
	outCh := make(chan rowOutcome, p.cfg.Workers)

	done := make(chan struct{})
	workers := p.cfg.Workers
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for row := range rowCh {
				outCh <- p.processRow(row)
			}
		}()
	}

	go func() {
		defer close(rowCh)
		for _, row := range rows {
			select {
			case rowCh <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for i := 0; i < workers; i++ {
			<-done
		}
		close(outCh)
	}()

	return outCh
}

// processRow parses every telegram in the row text and merges the results
// into one flight candidate.
func (p *Pipeline) processRow(row workbook.Row) rowOutcome {
	out := rowOutcome{row: row}

	text := strings.TrimSpace(row.Text)
	if text == "" {
		out.reject = "empty row"
		return out
	}

	raw := &telegram.RawMessage{
		Text:       text,
		ReceivedAt: time.Now().UTC(),
		Sheet:      row.Sheet,
		Row:        row.Index,
		FlightDate: row.FlightDate,
		RegionHint: row.RegionHint,
	}

	var group []*telegram.Parsed
	for _, part := range splitTelegrams(text) {
		msg := *raw
		msg.Text = part
		parsed := p.registry.Dispatch(&msg)
		if parsed == nil || parsed.TotalFailure() {
			continue
		}
		group = append(group, parsed)
		if out.kind == telegram.KindUnknown {
			out.kind = parsed.Kind
		}
	}
	if len(group) == 0 {
		out.reject = "no parsable telegram in row"
		return out
	}

	flight, err := p.norm.Normalize(group, raw)
	if err != nil {
		out.reject = err.Error()
		return out
	}
	out.flight = flight
	return out
}

// aggregate is the single goroutine that owns job counters and all writes:
// reference upserts, flight upserts, audit rows and the analytics batch.
func (p *Pipeline) aggregate(ctx context.Context, jobID string, total int, outcomes <-chan rowOutcome) storage.UploadJob {
	job := storage.UploadJob{ID: jobID, Status: storage.StatusCompleted, TotalRows: total}
	var details []RowError
	var events []storage.TelegramEvent

	for out := range outcomes {
		if out.reject == "" {
			if err := p.persistFlight(ctx, out.flight); err != nil {
				out.reject = fmt.Sprintf("store: %v", err)
			}
		}

		outcome := "persisted"
		detail := ""
		switch {
		case out.reject != "":
			job.Rejected++
			outcome = "rejected"
			detail = out.reject
			if len(details) < p.cfg.DetailCap {
				details = append(details, RowError{
					Sheet:   out.row.Sheet,
					Row:     out.row.Index,
					Excerpt: excerpt(out.row.Text),
					Reason:  out.reject,
				})
			}
		case len(out.flight.Warnings) > 0:
			job.Persisted++
			job.Warnings++
			outcome = "warnings"
			detail = strings.Join(out.flight.Warnings, "; ")
		default:
			job.Persisted++
		}

		if err := p.store.InsertRawMessage(ctx, storage.RawRecord{
			JobID:      jobID,
			Sheet:      out.row.Sheet,
			Row:        out.row.Index,
			Text:       out.row.Text,
			ReceivedAt: time.Now().UTC(),
			Outcome:    outcome,
			Detail:     detail,
		}); err != nil {
			p.log.Warn("record raw message", zap.String("job", jobID), zap.Error(err))
		}

		if p.events != nil {
			flightID := ""
			warnings := 0
			if out.flight != nil {
				flightID = out.flight.FlightID
				warnings = len(out.flight.Warnings)
			}
			events = append(events, storage.TelegramEvent{
				JobID:        jobID,
				Sheet:        out.row.Sheet,
				Row:          out.row.Index,
				Kind:         string(out.kind),
				FlightID:     flightID,
				Outcome:      outcome,
				WarningCount: warnings,
				RawText:      out.row.Text,
				ReceivedAt:   time.Now().UTC(),
			})
		}
	}

	switch {
	case total > 0 && job.Persisted == 0:
		job.Status = storage.StatusFailed
	case job.Rejected > 0:
		job.Status = storage.StatusPartial
	}

	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			job.Details = string(data)
		}
	}

	if p.events != nil && len(events) > 0 {
		if err := p.events.InsertEvents(ctx, events); err != nil {
			p.log.Warn("write analytics events", zap.String("job", jobID), zap.Error(err))
		}
	}
	return job
}

// persistFlight upserts the reference rows then the flight itself.
func (p *Pipeline) persistFlight(ctx context.Context, f *normalizer.Flight) error {
	if err := p.store.UpsertOperator(ctx, f.OperatorCode, f.OperatorName); err != nil {
		return fmt.Errorf("operator %s: %w", f.OperatorCode, err)
	}
	if err := p.store.UpsertUavType(ctx, f.UavTypeCode, f.UavTypeName); err != nil {
		return fmt.Errorf("uav type %s: %w", f.UavTypeCode, err)
	}

	rec := storage.FlightRecord{
		FlightID:     f.FlightID,
		OperatorCode: f.OperatorCode,
		UavTypeCode:  f.UavTypeCode,
		TakeoffTime:  f.TakeoffTime,
		LandingTime:  f.LandingTime,
		RegionFrom:   f.RegionFrom,
		RegionTo:     f.RegionTo,
		TimeSource:   f.TimeSource,
		Warnings:     f.Warnings,
	}
	if f.Duration != nil {
		sec := int64(f.Duration.Seconds())
		rec.DurationSec = &sec
	}
	if f.TakeoffPoint != nil {
		rec.TakeoffLat, rec.TakeoffLon = &f.TakeoffPoint.Lat, &f.TakeoffPoint.Lon
	}
	if f.LandingPoint != nil {
		rec.LandingLat, rec.LandingLon = &f.LandingPoint.Lat, &f.LandingPoint.Lon
	}
	if f.Raw != nil {
		rec.Sheet = f.Raw.Sheet
		rec.Row = f.Raw.Row
	}

	if _, err := p.store.UpsertFlight(ctx, rec); err != nil {
		return err
	}
	return nil
}

var telegramBoundaryRe = regexp.MustCompile(`\n[ \t]*\n`)

// splitTelegrams splits a row cell that carries several telegrams separated
// by blank lines (an SHR plus its DEP/ARR reports).
func splitTelegrams(text string) []string {
	parts := telegramBoundaryRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const excerptLen = 80

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= excerptLen {
		return text
	}
	return text[:excerptLen] + "..."
}
