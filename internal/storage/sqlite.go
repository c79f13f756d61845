package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	_ "modernc.org/sqlite"

	"shr_parser/internal/geo"
)

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string
}

// SQLiteDB wraps a SQLite database for single-host deployments. Timestamps
// are stored as UTC text in a fixed-width layout so string comparison orders
// them correctly.
type SQLiteDB struct {
	db *sql.DB
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// OpenSQLite opens or creates a SQLite database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent readers while the ingest worker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// CreateSchema creates the SQLite tables and indices.
func (d *SQLiteDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS operators (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS uav_types (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS regions (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		geometry    TEXT NOT NULL,
		updated_at  TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS flights (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		flight_id       TEXT NOT NULL,
		operator_code   TEXT REFERENCES operators(code),
		uav_type_code   TEXT REFERENCES uav_types(code),
		takeoff_time    TEXT,
		landing_time    TEXT,
		duration_sec    INTEGER,
		takeoff_lat     REAL,
		takeoff_lon     REAL,
		landing_lat     REAL,
		landing_lon     REAL,
		region_from     TEXT REFERENCES regions(code),
		region_to       TEXT REFERENCES regions(code),
		time_source     TEXT NOT NULL DEFAULT 'estimated',
		warnings        TEXT,
		sheet           TEXT,
		row_index       INTEGER,
		created_at      TEXT DEFAULT (datetime('now')),
		updated_at      TEXT DEFAULT (datetime('now'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_flights_natural_key ON flights (
		flight_id, IFNULL(takeoff_time, ''), IFNULL(landing_time, '')
	);
	CREATE INDEX IF NOT EXISTS idx_flights_takeoff ON flights(takeoff_time);
	CREATE INDEX IF NOT EXISTS idx_flights_region_from ON flights(region_from);
	CREATE INDEX IF NOT EXISTS idx_flights_region_to ON flights(region_to);

	CREATE TABLE IF NOT EXISTS raw_messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id      TEXT,
		sheet       TEXT,
		row_index   INTEGER,
		text        TEXT NOT NULL,
		received_at TEXT,
		outcome     TEXT NOT NULL,
		detail      TEXT,
		created_at  TEXT DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_raw_messages_job ON raw_messages(job_id);

	CREATE TABLE IF NOT EXISTS upload_logs (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		status      TEXT NOT NULL,
		total_rows  INTEGER NOT NULL DEFAULT 0,
		persisted   INTEGER NOT NULL DEFAULT 0,
		warnings    INTEGER NOT NULL DEFAULT 0,
		rejected    INTEGER NOT NULL DEFAULT 0,
		details     TEXT,
		created_at  TEXT DEFAULT (datetime('now')),
		started_at  TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_upload_logs_status ON upload_logs(status);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertOperator inserts or refreshes an operator reference row.
func (d *SQLiteDB) UpsertOperator(ctx context.Context, code, name string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO operators (code, name) VALUES (?, ?)
		ON CONFLICT (code) DO UPDATE SET name = excluded.name
	`, code, name)
	return err
}

// UpsertUavType inserts or refreshes a UAV type reference row.
func (d *SQLiteDB) UpsertUavType(ctx context.Context, code, name string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO uav_types (code, name) VALUES (?, ?)
		ON CONFLICT (code) DO UPDATE SET name = excluded.name
	`, code, name)
	return err
}

// UpsertFlight inserts a flight or refreshes the row with the same natural
// key. Returns whether a new row was created.
func (d *SQLiteDB) UpsertFlight(ctx context.Context, f FlightRecord) (bool, error) {
	warningsJSON, _ := json.Marshal(f.Warnings)
	takeoff := encodeTime(f.TakeoffTime)
	landing := encodeTime(f.LandingTime)

	var existing int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM flights
		WHERE flight_id = ? AND IFNULL(takeoff_time, '') = IFNULL(?, '')
			AND IFNULL(landing_time, '') = IFNULL(?, '')
	`, f.FlightID, takeoff, landing).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("check flight %s: %w", f.FlightID, err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO flights (
			flight_id, operator_code, uav_type_code,
			takeoff_time, landing_time, duration_sec,
			takeoff_lat, takeoff_lon, landing_lat, landing_lon,
			region_from, region_to, time_source, warnings, sheet, row_index
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flight_id, IFNULL(takeoff_time, ''), IFNULL(landing_time, '')) DO UPDATE SET
			operator_code = excluded.operator_code,
			uav_type_code = excluded.uav_type_code,
			duration_sec = excluded.duration_sec,
			takeoff_lat = excluded.takeoff_lat,
			takeoff_lon = excluded.takeoff_lon,
			landing_lat = excluded.landing_lat,
			landing_lon = excluded.landing_lon,
			region_from = IFNULL(excluded.region_from, flights.region_from),
			region_to = IFNULL(excluded.region_to, flights.region_to),
			time_source = excluded.time_source,
			warnings = excluded.warnings,
			sheet = excluded.sheet,
			row_index = excluded.row_index,
			updated_at = datetime('now')
	`, f.FlightID, f.OperatorCode, f.UavTypeCode,
		takeoff, landing, f.DurationSec,
		f.TakeoffLat, f.TakeoffLon, f.LandingLat, f.LandingLon,
		f.RegionFrom, f.RegionTo, f.TimeSource, string(warningsJSON), f.Sheet, f.Row)
	if err != nil {
		return false, fmt.Errorf("upsert flight %s: %w", f.FlightID, err)
	}
	return existing == 0, nil
}

// InsertRawMessage stores one ingested row for audit.
func (d *SQLiteDB) InsertRawMessage(ctx context.Context, r RawRecord) error {
	received := r.ReceivedAt.UTC().Format(sqliteTimeLayout)
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO raw_messages (job_id, sheet, row_index, text, received_at, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.JobID, r.Sheet, r.Row, r.Text, received, r.Outcome, r.Detail)
	return err
}

// CreateJob records a new queued upload job.
func (d *SQLiteDB) CreateJob(ctx context.Context, job UploadJob) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO upload_logs (id, source, status, total_rows)
		VALUES (?, ?, ?, ?)
	`, job.ID, job.Source, StatusQueued, job.TotalRows)
	return err
}

// StartJob moves a queued job to RUNNING.
func (d *SQLiteDB) StartJob(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE upload_logs SET status = ?, started_at = datetime('now')
		WHERE id = ? AND status = ?
	`, StatusRunning, id, StatusQueued)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not queued", id)
	}
	return nil
}

// FinishJob writes the terminal state of a running job; write-once.
func (d *SQLiteDB) FinishJob(ctx context.Context, job UploadJob) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE upload_logs SET
			status = ?,
			total_rows = ?,
			persisted = ?,
			warnings = ?,
			rejected = ?,
			details = ?,
			finished_at = datetime('now')
		WHERE id = ? AND status = ?
	`, job.Status, job.TotalRows, job.Persisted, job.Warnings, job.Rejected,
		job.Details, job.ID, StatusRunning)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not running", job.ID)
	}
	return nil
}

// GetJob retrieves an upload job by ID, or nil when unknown.
func (d *SQLiteDB) GetJob(ctx context.Context, id string) (*UploadJob, error) {
	var job UploadJob
	var details, createdAt, startedAt, finishedAt *string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, source, status, total_rows, persisted, warnings, rejected,
			details, created_at, started_at, finished_at
		FROM upload_logs WHERE id = ?
	`, id).Scan(&job.ID, &job.Source, &job.Status, &job.TotalRows, &job.Persisted,
		&job.Warnings, &job.Rejected, &details, &createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if details != nil {
		job.Details = *details
	}
	if t := decodeTime(createdAt); t != nil {
		job.CreatedAt = *t
	}
	job.StartedAt = decodeTime(startedAt)
	job.FinishedAt = decodeTime(finishedAt)
	return &job, nil
}

// MarkStalledJobs fails RUNNING jobs that started before the cutoff.
func (d *SQLiteDB) MarkStalledJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(sqliteTimeLayout)
	res, err := d.db.ExecContext(ctx, `
		UPDATE upload_logs SET status = ?, finished_at = datetime('now'),
			details = '[{"reason": "stalled: no progress before deadline"}]'
		WHERE status = ? AND started_at < ?
	`, StatusFailed, StatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpsertRegions stores regions keyed by code inside one transaction.
func (d *SQLiteDB) UpsertRegions(ctx context.Context, regions []geo.Region) (int, int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, updated := 0, 0
	for _, r := range regions {
		geomJSON, err := json.Marshal(geojson.NewGeometry(r.Geometry))
		if err != nil {
			return 0, 0, fmt.Errorf("encode region %s: %w", r.Code, err)
		}

		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM regions WHERE code = ?`, r.Code).Scan(&existing); err != nil {
			return 0, 0, fmt.Errorf("check region %s: %w", r.Code, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO regions (code, name, geometry, updated_at)
			VALUES (?, ?, ?, datetime('now'))
			ON CONFLICT (code) DO UPDATE SET
				name = excluded.name,
				geometry = excluded.geometry,
				updated_at = datetime('now')
		`, r.Code, r.Name, string(geomJSON))
		if err != nil {
			return 0, 0, fmt.Errorf("upsert region %s: %w", r.Code, err)
		}
		if existing == 0 {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, updated, nil
}

// LoadRegions reads the full region set for resolver construction.
func (d *SQLiteDB) LoadRegions(ctx context.Context) ([]geo.Region, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT code, name, geometry FROM regions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []geo.Region
	for rows.Next() {
		var code, name, geomJSON string
		if err := rows.Scan(&code, &name, &geomJSON); err != nil {
			return nil, err
		}
		geom, err := decodeRegionGeometry([]byte(geomJSON))
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", code, err)
		}
		regions = append(regions, geo.Region{Code: code, Name: name, Geometry: geom})
	}
	return regions, rows.Err()
}

// FlightsMissingRegion returns flights with a point but no resolved region on
// that side.
func (d *SQLiteDB) FlightsMissingRegion(ctx context.Context) ([]geo.FlightPoints, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, takeoff_lon, takeoff_lat, landing_lon, landing_lat
		FROM flights
		WHERE (takeoff_lat IS NOT NULL AND region_from IS NULL)
		   OR (landing_lat IS NOT NULL AND region_to IS NULL)
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flights []geo.FlightPoints
	for rows.Next() {
		var f geo.FlightPoints
		if err := rows.Scan(&f.ID, &f.TakeoffLon, &f.TakeoffLat, &f.LandingLon, &f.LandingLat); err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// UpdateFlightRegions sets region references; nil leaves a side unchanged.
func (d *SQLiteDB) UpdateFlightRegions(ctx context.Context, flightID int64, regionFrom, regionTo *string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE flights SET
			region_from = IFNULL(?, region_from),
			region_to = IFNULL(?, region_to),
			updated_at = datetime('now')
		WHERE id = ?
	`, regionFrom, regionTo, flightID)
	return err
}

func encodeTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(sqliteTimeLayout)
	return &s
}

func decodeTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(sqliteTimeLayout, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
