package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB wraps a ClickHouse connection for the append-only telegram
// event log used for analytics. The sink is optional; ingestion runs without
// it.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	err := d.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS telegram_events (
			job_id          String,
			sheet           LowCardinality(String),
			row_index       UInt32,
			kind            LowCardinality(String),
			flight_id       String,
			outcome         LowCardinality(String),
			warning_count   UInt16,
			raw_text        String,
			received_at     DateTime64(3),
			ingested_at     DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(ingested_at)
		ORDER BY (job_id, sheet, row_index)
		SETTINGS index_granularity = 8192`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// TelegramEvent is one parsed telegram outcome recorded for analytics.
type TelegramEvent struct {
	JobID        string
	Sheet        string
	Row          int
	Kind         string
	FlightID     string
	Outcome      string
	WarningCount int
	RawText      string
	ReceivedAt   time.Time
}

// InsertEvents appends a batch of telegram events.
func (d *ClickHouseDB) InsertEvents(ctx context.Context, events []TelegramEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO telegram_events
			(job_id, sheet, row_index, kind, flight_id, outcome, warning_count, raw_text, received_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			e.JobID,
			e.Sheet,
			uint32(e.Row),
			e.Kind,
			e.FlightID,
			e.Outcome,
			uint16(e.WarningCount),
			e.RawText,
			e.ReceivedAt,
		)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
