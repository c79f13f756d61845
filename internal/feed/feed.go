// Package feed connects the ingestion pipeline to NATS: telegram batches
// arrive on an intake subject and job status transitions are published for
// downstream consumers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"shr_parser/internal/storage"
	"shr_parser/internal/workbook"
)

// Config holds NATS settings.
type Config struct {
	URL           string `toml:"url"`
	IntakeSubject string `toml:"intake_subject"`
	StatusSubject string `toml:"status_subject"`
}

// DefaultConfig returns local development settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		IntakeSubject: "shr.intake",
		StatusSubject: "shr.jobs",
	}
}

// IntakeBatch is one submitted batch of workbook rows.
type IntakeBatch struct {
	Source string         `json:"source"`
	Rows   []workbook.Row `json:"rows"`
}

// intakeReply is sent back when the batch message carries a reply subject.
type intakeReply struct {
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Submitter accepts a batch for asynchronous ingestion; ingest.Pipeline
// implements it.
type Submitter interface {
	Submit(ctx context.Context, source string, rows []workbook.Row) (string, error)
}

// Feed is a NATS connection bound to the intake and status subjects.
type Feed struct {
	conn *nats.Conn
	cfg  Config
	log  *zap.Logger
	sub  *nats.Subscription
}

// Connect dials the NATS server.
func Connect(cfg Config, log *zap.Logger) (*Feed, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("shr_parser"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Feed{conn: conn, cfg: cfg, log: log}, nil
}

// Close drains the connection, letting in-flight messages finish.
func (f *Feed) Close() {
	if f.sub != nil {
		_ = f.sub.Drain()
	}
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
	}
}

// ListenIntake subscribes to the intake subject and submits each batch to
// the pipeline. Replies with the job ID when the publisher requested one.
func (f *Feed) ListenIntake(ctx context.Context, submitter Submitter) error {
	sub, err := f.conn.Subscribe(f.cfg.IntakeSubject, func(msg *nats.Msg) {
		var batch IntakeBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			f.log.Warn("bad intake batch", zap.Error(err))
			f.reply(msg, intakeReply{Error: fmt.Sprintf("decode batch: %v", err)})
			return
		}
		if batch.Source == "" {
			batch.Source = f.cfg.IntakeSubject
		}

		jobID, err := submitter.Submit(ctx, batch.Source, batch.Rows)
		if err != nil {
			f.log.Error("submit intake batch", zap.String("source", batch.Source), zap.Error(err))
			f.reply(msg, intakeReply{Error: err.Error()})
			return
		}
		f.log.Info("intake batch submitted",
			zap.String("source", batch.Source), zap.String("job", jobID),
			zap.Int("rows", len(batch.Rows)))
		f.reply(msg, intakeReply{JobID: jobID})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.cfg.IntakeSubject, err)
	}
	f.sub = sub
	return nil
}

func (f *Feed) reply(msg *nats.Msg, r intakeReply) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(r)
	if err := msg.Respond(data); err != nil {
		f.log.Warn("intake reply", zap.Error(err))
	}
}

// JobStatusEvent is the published shape of a job transition.
type JobStatusEvent struct {
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	TotalRows int       `json:"total_rows"`
	Persisted int       `json:"persisted"`
	Warnings  int       `json:"warnings"`
	Rejected  int       `json:"rejected"`
	At        time.Time `json:"at"`
}

// PublishJobStatus publishes a job transition on the status subject. It
// satisfies ingest.Notifier.
func (f *Feed) PublishJobStatus(_ context.Context, job storage.UploadJob) error {
	event := JobStatusEvent{
		JobID:     job.ID,
		Source:    job.Source,
		Status:    job.Status,
		TotalRows: job.TotalRows,
		Persisted: job.Persisted,
		Warnings:  job.Warnings,
		Rejected:  job.Rejected,
		At:        time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", f.cfg.StatusSubject, job.ID)
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish job status: %w", err)
	}
	return nil
}
