package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"shr_parser/internal/geo"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB wraps a PostgreSQL connection pool.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresDB) Close() error {
	d.pool.Close()
	return nil
}

// Pool returns the underlying connection pool for advanced operations.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostgreSQL tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	-- Reference data: operators
	CREATE TABLE IF NOT EXISTS operators (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Reference data: UAV types
	CREATE TABLE IF NOT EXISTS uav_types (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Reference data: administrative regions with GeoJSON boundaries
	CREATE TABLE IF NOT EXISTS regions (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		geometry    TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Flights
	CREATE TABLE IF NOT EXISTS flights (
		id              BIGSERIAL PRIMARY KEY,
		flight_id       TEXT NOT NULL,
		operator_code   TEXT REFERENCES operators(code),
		uav_type_code   TEXT REFERENCES uav_types(code),
		takeoff_time    TIMESTAMPTZ,
		landing_time    TIMESTAMPTZ,
		duration_sec    BIGINT,
		takeoff_lat     DOUBLE PRECISION,
		takeoff_lon     DOUBLE PRECISION,
		landing_lat     DOUBLE PRECISION,
		landing_lon     DOUBLE PRECISION,
		region_from     TEXT REFERENCES regions(code),
		region_to       TEXT REFERENCES regions(code),
		time_source     TEXT NOT NULL DEFAULT 'estimated',
		warnings        JSONB,
		sheet           TEXT,
		row_index       INTEGER,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_flights_takeoff ON flights(takeoff_time);
	CREATE INDEX IF NOT EXISTS idx_flights_region_from ON flights(region_from);
	CREATE INDEX IF NOT EXISTS idx_flights_region_to ON flights(region_to);

	-- Audit: raw workbook rows with their ingestion outcome
	CREATE TABLE IF NOT EXISTS raw_messages (
		id          BIGSERIAL PRIMARY KEY,
		job_id      TEXT,
		sheet       TEXT,
		row_index   INTEGER,
		text        TEXT NOT NULL,
		received_at TIMESTAMPTZ,
		outcome     TEXT NOT NULL,
		detail      TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_raw_messages_job ON raw_messages(job_id);

	-- Upload job state machine
	CREATE TABLE IF NOT EXISTS upload_logs (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		status      TEXT NOT NULL,
		total_rows  INTEGER NOT NULL DEFAULT 0,
		persisted   INTEGER NOT NULL DEFAULT 0,
		warnings    INTEGER NOT NULL DEFAULT 0,
		rejected    INTEGER NOT NULL DEFAULT 0,
		details     JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at  TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_upload_logs_status ON upload_logs(status);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// The natural key folds null times to a sentinel so a flight with only a
	// planned window still deduplicates on re-ingest.
	_, err := d.pool.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_flights_natural_key ON flights (
			flight_id,
			COALESCE(takeoff_time, 'epoch'::timestamptz),
			COALESCE(landing_time, 'epoch'::timestamptz)
		)`)
	if err != nil {
		return fmt.Errorf("create natural key index: %w", err)
	}
	return nil
}

// UpsertOperator inserts or refreshes an operator reference row.
func (d *PostgresDB) UpsertOperator(ctx context.Context, code, name string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO operators (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	`, code, name)
	return err
}

// UpsertUavType inserts or refreshes a UAV type reference row.
func (d *PostgresDB) UpsertUavType(ctx context.Context, code, name string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO uav_types (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	`, code, name)
	return err
}

// UpsertFlight inserts a flight or refreshes the existing row with the same
// natural key. Returns whether a new row was created.
func (d *PostgresDB) UpsertFlight(ctx context.Context, f FlightRecord) (bool, error) {
	warningsJSON, _ := json.Marshal(f.Warnings)

	var inserted bool
	err := d.pool.QueryRow(ctx, `
		INSERT INTO flights (
			flight_id, operator_code, uav_type_code,
			takeoff_time, landing_time, duration_sec,
			takeoff_lat, takeoff_lon, landing_lat, landing_lon,
			region_from, region_to, time_source, warnings, sheet, row_index
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (
			flight_id,
			COALESCE(takeoff_time, 'epoch'::timestamptz),
			COALESCE(landing_time, 'epoch'::timestamptz)
		) DO UPDATE SET
			operator_code = EXCLUDED.operator_code,
			uav_type_code = EXCLUDED.uav_type_code,
			duration_sec = EXCLUDED.duration_sec,
			takeoff_lat = EXCLUDED.takeoff_lat,
			takeoff_lon = EXCLUDED.takeoff_lon,
			landing_lat = EXCLUDED.landing_lat,
			landing_lon = EXCLUDED.landing_lon,
			region_from = COALESCE(EXCLUDED.region_from, flights.region_from),
			region_to = COALESCE(EXCLUDED.region_to, flights.region_to),
			time_source = EXCLUDED.time_source,
			warnings = EXCLUDED.warnings,
			sheet = EXCLUDED.sheet,
			row_index = EXCLUDED.row_index,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, f.FlightID, f.OperatorCode, f.UavTypeCode,
		f.TakeoffTime, f.LandingTime, f.DurationSec,
		f.TakeoffLat, f.TakeoffLon, f.LandingLat, f.LandingLon,
		f.RegionFrom, f.RegionTo, f.TimeSource, warningsJSON, f.Sheet, f.Row,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert flight %s: %w", f.FlightID, err)
	}
	return inserted, nil
}

// InsertRawMessage stores one ingested row for audit.
func (d *PostgresDB) InsertRawMessage(ctx context.Context, r RawRecord) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO raw_messages (job_id, sheet, row_index, text, received_at, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.JobID, r.Sheet, r.Row, r.Text, r.ReceivedAt, r.Outcome, r.Detail)
	return err
}

// CreateJob records a new queued upload job.
func (d *PostgresDB) CreateJob(ctx context.Context, job UploadJob) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO upload_logs (id, source, status, total_rows)
		VALUES ($1, $2, $3, $4)
	`, job.ID, job.Source, StatusQueued, job.TotalRows)
	return err
}

// StartJob moves a queued job to RUNNING.
func (d *PostgresDB) StartJob(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE upload_logs SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, StatusRunning, StatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not queued", id)
	}
	return nil
}

// FinishJob writes the terminal state of a running job. The status guard
// makes the terminal transition write-once: a job already finished (or swept
// as stalled) is never overwritten.
func (d *PostgresDB) FinishJob(ctx context.Context, job UploadJob) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE upload_logs SET
			status = $2,
			total_rows = $3,
			persisted = $4,
			warnings = $5,
			rejected = $6,
			details = $7,
			finished_at = NOW()
		WHERE id = $1 AND status = $8
	`, job.ID, job.Status, job.TotalRows, job.Persisted, job.Warnings, job.Rejected,
		job.Details, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running", job.ID)
	}
	return nil
}

// GetJob retrieves an upload job by ID, or nil when unknown.
func (d *PostgresDB) GetJob(ctx context.Context, id string) (*UploadJob, error) {
	var job UploadJob
	var details *string
	err := d.pool.QueryRow(ctx, `
		SELECT id, source, status, total_rows, persisted, warnings, rejected,
			details::text, created_at, started_at, finished_at
		FROM upload_logs WHERE id = $1
	`, id).Scan(&job.ID, &job.Source, &job.Status, &job.TotalRows, &job.Persisted,
		&job.Warnings, &job.Rejected, &details, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if details != nil {
		job.Details = *details
	}
	return &job, nil
}

// MarkStalledJobs fails RUNNING jobs whose worker died without reporting.
// Returns the number of jobs swept.
func (d *PostgresDB) MarkStalledJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := d.pool.Exec(ctx, `
		UPDATE upload_logs SET status = $1, finished_at = NOW(),
			details = '[{"reason": "stalled: no progress before deadline"}]'::jsonb
		WHERE status = $2 AND started_at < $3
	`, StatusFailed, StatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// UpsertRegions stores regions keyed by code inside one transaction.
func (d *PostgresDB) UpsertRegions(ctx context.Context, regions []geo.Region) (int, int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, updated := 0, 0
	for _, r := range regions {
		geomJSON, err := json.Marshal(geojson.NewGeometry(r.Geometry))
		if err != nil {
			return 0, 0, fmt.Errorf("encode region %s: %w", r.Code, err)
		}
		var isInsert bool
		err = tx.QueryRow(ctx, `
			INSERT INTO regions (code, name, geometry, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				geometry = EXCLUDED.geometry,
				updated_at = NOW()
			RETURNING (xmax = 0)
		`, r.Code, r.Name, string(geomJSON)).Scan(&isInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert region %s: %w", r.Code, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, updated, nil
}

// LoadRegions reads the full region set for resolver construction.
func (d *PostgresDB) LoadRegions(ctx context.Context) ([]geo.Region, error) {
	rows, err := d.pool.Query(ctx, `SELECT code, name, geometry FROM regions ORDER BY code`)
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
func (d *PostgresDB) FlightsMissingRegion(ctx context.Context) ([]geo.FlightPoints, error) {
	rows, err := d.pool.Query(ctx, `
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
func (d *PostgresDB) UpdateFlightRegions(ctx context.Context, flightID int64, regionFrom, regionTo *string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE flights SET
			region_from = COALESCE($2, region_from),
			region_to = COALESCE($3, region_to),
			updated_at = NOW()
		WHERE id = $1
	`, flightID, regionFrom, regionTo)
	return err
}

// decodeRegionGeometry parses a stored GeoJSON geometry into a multi-polygon.
func decodeRegionGeometry(data []byte) (orb.MultiPolygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	switch geom := g.Geometry().(type) {
	case orb.MultiPolygon:
		return geom, nil
	case orb.Polygon:
		return orb.MultiPolygon{geom}, nil
	default:
		return nil, fmt.Errorf("unexpected geometry type %s", g.Type)
	}
}
