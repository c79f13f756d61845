package geo

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// RegionStore is the storage surface the importer and backfill need.
type RegionStore interface {
	// UpsertRegions stores regions keyed by code inside one transaction and
	// reports how many rows were created vs overwritten.
	UpsertRegions(ctx context.Context, regions []Region) (inserted, updated int, err error)
}

// ImportStats summarizes one boundary import.
type ImportStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Importer loads a boundary dataset (local file or HTTP download, optionally
// gzip-compressed GeoJSON), normalizes it and upserts the result.
type Importer struct {
	store  RegionStore
	level  int
	client *http.Client
	log    *zap.Logger
}

// NewImporter creates an importer targeting the given admin level. timeout
// bounds the dataset download; a source that cannot be fetched in time fails
// the import rather than hanging.
func NewImporter(store RegionStore, level int, timeout time.Duration, log *zap.Logger) *Importer {
	return &Importer{
		store:  store,
		level:  level,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Import reads the dataset at source, normalizes its features and upserts
// the resulting regions in one transaction.
func (imp *Importer) Import(ctx context.Context, source string) (ImportStats, error) {
	var stats ImportStats

	data, err := imp.fetch(ctx, source)
	if err != nil {
		return stats, fmt.Errorf("read boundary dataset: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return stats, fmt.Errorf("decode boundary dataset: %w", err)
	}

	regions, nstats := Normalize(fc, imp.level)
	stats.Skipped = nstats.Skipped
	imp.log.Info("normalized boundary features",
		zap.Int("features", nstats.Features),
		zap.Int("grouped", nstats.Grouped),
		zap.Int("skipped", nstats.Skipped),
		zap.Int("regions", len(regions)),
	)

	if len(regions) == 0 {
		return stats, nil
	}

	stats.Inserted, stats.Updated, err = imp.store.UpsertRegions(ctx, regions)
	if err != nil {
		return stats, fmt.Errorf("store regions: %w", err)
	}
	return stats, nil
}

// fetch reads the source (URL or local path) and transparently decompresses
// gzip content.
func (imp *Importer) fetch(ctx context.Context, source string) ([]byte, error) {
	var rc io.ReadCloser

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := imp.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, source)
		}
		rc = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		rc = f
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return io.ReadAll(gz)
	}
	return data, nil
}
