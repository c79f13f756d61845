// Package config loads the TOML configuration file and supplies defaults so
// the binary runs with no file at all.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"shr_parser/internal/feed"
	"shr_parser/internal/ingest"
	"shr_parser/internal/storage"
)

// Config is the root configuration.
type Config struct {
	Logging   Logging        `toml:"logging"`
	Storage   storage.Config `toml:"storage"`
	Ingest    Ingest         `toml:"ingest"`
	Regions   Regions        `toml:"regions"`
	NATS      NATS           `toml:"nats"`
	Analytics Analytics      `toml:"analytics"`
}

// Logging controls the zap logger.
type Logging struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

// Ingest tunes the upload pipeline.
type Ingest struct {
	Workers         int `toml:"workers"`
	DetailCap       int `toml:"detail_cap"`
	StalledAfterMin int `toml:"stalled_after_min"`
	SweepEveryMin   int `toml:"sweep_every_min"`
}

// Config converts the section into pipeline settings.
func (i Ingest) Config() ingest.Config {
	return ingest.Config{
		Workers:      i.Workers,
		DetailCap:    i.DetailCap,
		StalledAfter: time.Duration(i.StalledAfterMin) * time.Minute,
	}
}

// SweepInterval returns how often stalled jobs are swept.
func (i Ingest) SweepInterval() time.Duration {
	return time.Duration(i.SweepEveryMin) * time.Minute
}

// Regions configures boundary imports.
type Regions struct {
	Level      int    `toml:"level"`  // admin level to keep
	Source     string `toml:"source"` // default dataset URL or path
	TimeoutSec int    `toml:"timeout_sec"`
}

// Timeout returns the dataset download timeout.
func (r Regions) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// NATS enables the feed listener and status publishing.
type NATS struct {
	Enabled bool `toml:"enabled"`
	feed.Config
}

// Analytics enables the ClickHouse event sink.
type Analytics struct {
	Enabled bool `toml:"enabled"`
	storage.ClickHouseConfig
}

// Default returns the built-in configuration.
func Default() Config {
	st := storage.DefaultConfig()
	ing := ingest.DefaultConfig()
	return Config{
		Logging: Logging{Level: "info", Format: "json"},
		Storage: st,
		Ingest: Ingest{
			Workers:         ing.Workers,
			DetailCap:       ing.DetailCap,
			StalledAfterMin: int(ing.StalledAfter / time.Minute),
			SweepEveryMin:   5,
		},
		Regions: Regions{
			Level:      4,
			TimeoutSec: 120,
		},
		NATS:      NATS{Config: feed.DefaultConfig()},
		Analytics: Analytics{ClickHouseConfig: st.ClickHouse},
	}
}

// Load reads the configuration at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
