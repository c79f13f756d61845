// Package storage persists flights, reference data, region boundaries and
// upload jobs. PostgreSQL is the production store; SQLite serves single-host
// and development runs with the same surface.
package storage

import (
	"context"
	"fmt"
	"time"

	"shr_parser/internal/geo"
)

// Upload job lifecycle. A job moves QUEUED -> RUNNING -> terminal; terminal
// states are write-once.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusPartial   = "PARTIAL"
	StatusFailed    = "FAILED"
)

// Time source values persisted with a flight.
const (
	TimeSourceActual    = "actual"
	TimeSourceEstimated = "estimated"
)

// Config holds database settings. Driver selects the state store backend.
type Config struct {
	Driver     string // "postgres" or "sqlite"
	Postgres   PostgresConfig
	SQLite     SQLiteConfig
	ClickHouse ClickHouseConfig
}

// DefaultConfig returns local development settings.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "shr",
			User:     "shr",
			Password: "shr",
		},
		SQLite: SQLiteConfig{
			Path: "shr.db",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "shr",
			User:     "default",
			Password: "",
		},
	}
}

// FlightRecord is one flight row as persisted. The natural key is
// (flight_id, takeoff_time, landing_time) with null times folded to a
// sentinel, so re-ingesting the same workbook updates instead of duplicating.
type FlightRecord struct {
	ID           int64
	FlightID     string
	OperatorCode string
	UavTypeCode  string
	TakeoffTime  *time.Time
	LandingTime  *time.Time
	DurationSec  *int64
	TakeoffLat   *float64
	TakeoffLon   *float64
	LandingLat   *float64
	LandingLon   *float64
	RegionFrom   *string
	RegionTo     *string
	TimeSource   string
	Warnings     []string
	Sheet        string
	Row          int
}

// RawRecord is one ingested workbook row with its outcome, kept for audit.
type RawRecord struct {
	JobID      string
	Sheet      string
	Row        int
	Text       string
	ReceivedAt time.Time
	Outcome    string // "persisted", "warnings" or "rejected"
	Detail     string
}

// UploadJob is the state of one asynchronous workbook ingestion.
type UploadJob struct {
	ID         string
	Source     string
	Status     string
	TotalRows  int
	Persisted  int
	Warnings   int
	Rejected   int
	Details    string // JSON array of row-level errors, capped by the writer
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Store is the state-store surface shared by the PostgreSQL and SQLite
// backends. It also satisfies geo.RegionStore and geo.BackfillStore.
type Store interface {
	CreateSchema(ctx context.Context) error
	Close() error

	UpsertOperator(ctx context.Context, code, name string) error
	UpsertUavType(ctx context.Context, code, name string) error
	UpsertFlight(ctx context.Context, f FlightRecord) (inserted bool, err error)
	InsertRawMessage(ctx context.Context, r RawRecord) error

	CreateJob(ctx context.Context, job UploadJob) error
	StartJob(ctx context.Context, id string) error
	FinishJob(ctx context.Context, job UploadJob) error
	GetJob(ctx context.Context, id string) (*UploadJob, error)
	MarkStalledJobs(ctx context.Context, olderThan time.Duration) (int, error)

	UpsertRegions(ctx context.Context, regions []geo.Region) (inserted, updated int, err error)
	LoadRegions(ctx context.Context) ([]geo.Region, error)
	FlightsMissingRegion(ctx context.Context) ([]geo.FlightPoints, error)
	UpdateFlightRegions(ctx context.Context, flightID int64, regionFrom, regionTo *string) error
}

// Open opens the state store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	case "sqlite", "":
		return OpenSQLite(cfg.SQLite)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
