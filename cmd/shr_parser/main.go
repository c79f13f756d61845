// Command-line entry point for the SHR telegram ingester.
//
// Commands
// --------
//   parse            - parse a row dump to JSON without touching a database
//   ingest           - run one ingestion job synchronously
//   serve            - run the NATS intake listener and stalled-job sweeper
//   import-regions   - load an administrative boundary dataset
//   backfill-regions - re-resolve region references for stored flights
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shr_parser/internal/config"
	"shr_parser/internal/feed"
	"shr_parser/internal/geo"
	"shr_parser/internal/ingest"
	"shr_parser/internal/logger"
	"shr_parser/internal/normalizer"
	_ "shr_parser/internal/parsers" // register all parsers via init()
	"shr_parser/internal/registry"
	"shr_parser/internal/storage"
	"shr_parser/internal/workbook"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "shr_parser - commands:")
	fmt.Fprintln(w, "  parse            - parse a row dump (JSONL/CSV) and output flights as JSON")
	fmt.Fprintln(w, "  ingest           - ingest a row dump into the database as one job")
	fmt.Fprintln(w, "  serve            - listen for intake batches on NATS")
	fmt.Fprintln(w, "  import-regions   - load a GeoJSON boundary dataset into the region table")
	fmt.Fprintln(w, "  backfill-regions - resolve region references for flights missing them")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  shr_parser parse -input rows.jsonl [-output out.json] [-pretty]")
	fmt.Fprintln(w, "  shr_parser ingest -input rows.jsonl [-config shr.toml] [-source name]")
	fmt.Fprintln(w, "  shr_parser serve [-config shr.toml]")
	fmt.Fprintln(w, "  shr_parser import-regions -source boundaries.geojson [-level 4] [-config shr.toml]")
	fmt.Fprintln(w, "  shr_parser backfill-regions [-config shr.toml]")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "import-regions":
		err = runImportRegions(os.Args[2:])
	case "backfill-regions":
		err = runBackfillRegions(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseOut is one row in the parse command's JSON output.
type parseOut struct {
	Sheet  string             `json:"sheet,omitempty"`
	Row    int                `json:"row"`
	Flight *normalizer.Flight `json:"flight,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runParse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	input := fs.String("input", "", "row dump to parse (JSONL or CSV)")
	output := fs.String("output", "", "output file (default stdout)")
	pretty := fs.Bool("pretty", false, "indent JSON output")
	_ = fs.Parse(args)

	if *input == "" {
		return fmt.Errorf("parse: -input is required")
	}

	rows, err := loadRows(*input)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	norm := normalizer.New(nil, log)
	// No store: the parse command never persists.
	pipeline := ingest.New(nil, registry.Default(), norm, ingest.DefaultConfig(), log)

	out := make([]parseOut, 0, len(rows))
	for _, row := range rows {
		flight, reason := pipeline.ParseRow(row)
		entry := parseOut{Sheet: row.Sheet, Row: row.Index, Flight: flight, Error: reason}
		out = append(out, entry)
	}

	var data []byte
	if *pretty {
		data, err = json.MarshalIndent(out, "", "  ")
	} else {
		data, err = json.Marshal(out)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	if *output == "" {
		_, _ = os.Stdout.Write(data)
		_, _ = os.Stdout.Write([]byte("\n"))
		return nil
	}
	return os.WriteFile(*output, data, 0o644)
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "row dump to ingest (JSONL or CSV)")
	source := fs.String("source", "", "source label recorded with the job (default: input path)")
	_ = fs.Parse(args)

	if *input == "" {
		return fmt.Errorf("ingest: -input is required")
	}
	if *source == "" {
		*source = *input
	}

	ctx := context.Background()
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rows, err := loadRows(*input)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipeline, err := buildPipeline(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	if n, err := pipeline.SweepStalled(ctx); err != nil {
		log.Warn("sweep stalled jobs", zap.Error(err))
	} else if n > 0 {
		log.Warn("swept stalled jobs", zap.Int("count", n))
	}

	job, err := pipeline.Execute(ctx, *source, rows)
	if err != nil {
		return err
	}
	fmt.Printf("job %s: %s (rows=%d persisted=%d warnings=%d rejected=%d)\n",
		job.ID, job.Status, job.TotalRows, job.Persisted, job.Warnings, job.Rejected)
	if job.Details != "" {
		fmt.Println(job.Details)
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipeline, err := buildPipeline(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	if n, err := pipeline.SweepStalled(ctx); err != nil {
		log.Warn("sweep stalled jobs", zap.Error(err))
	} else if n > 0 {
		log.Warn("swept stalled jobs", zap.Int("count", n))
	}

	if cfg.NATS.Enabled {
		f, err := feed.Connect(cfg.NATS.Config, log)
		if err != nil {
			return err
		}
		defer f.Close()
		pipeline.SetNotifier(f)
		if err := f.ListenIntake(ctx, pipeline); err != nil {
			return err
		}
		log.Info("listening for intake batches",
			zap.String("url", cfg.NATS.URL), zap.String("subject", cfg.NATS.IntakeSubject))
	} else {
		log.Warn("nats disabled; serve will only sweep stalled jobs")
	}

	sweep := time.NewTicker(cfg.Ingest.SweepInterval())
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-sweep.C:
			n, err := pipeline.SweepStalled(ctx)
			if err != nil {
				log.Error("sweep stalled jobs", zap.Error(err))
			} else if n > 0 {
				log.Warn("swept stalled jobs", zap.Int("count", n))
			}
		}
	}
}

func runImportRegions(args []string) error {
	fs := flag.NewFlagSet("import-regions", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	source := fs.String("source", "", "boundary dataset URL or file (default from config)")
	level := fs.Int("level", 0, "admin level to keep (default from config)")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if *source == "" {
		*source = cfg.Regions.Source
	}
	if *source == "" {
		return fmt.Errorf("import-regions: no -source given and none configured")
	}
	if *level == 0 {
		*level = cfg.Regions.Level
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	imp := geo.NewImporter(store, *level, cfg.Regions.Timeout(), log)
	stats, err := imp.Import(ctx, *source)
	if err != nil {
		return err
	}
	fmt.Printf("regions: inserted=%d updated=%d skipped=%d\n",
		stats.Inserted, stats.Updated, stats.Skipped)
	return nil
}

func runBackfillRegions(args []string) error {
	fs := flag.NewFlagSet("backfill-regions", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	regions, err := store.LoadRegions(ctx)
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}
	if len(regions) == 0 {
		return fmt.Errorf("no regions loaded; run import-regions first")
	}

	updated, err := geo.Backfill(ctx, store, geo.NewResolver(regions), log)
	if err != nil {
		return err
	}
	fmt.Printf("backfill: updated=%d\n", updated)
	return nil
}

func setup(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, nil, err
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.CreateSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// buildPipeline wires the registry, the resolver (when region data exists)
// and the optional analytics sink into an ingestion pipeline.
func buildPipeline(ctx context.Context, cfg config.Config, store storage.Store, log *zap.Logger) (*ingest.Pipeline, error) {
	var resolver normalizer.RegionResolver
	regions, err := store.LoadRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	if len(regions) > 0 {
		resolver = geo.NewResolver(regions)
		log.Info("region resolver ready", zap.Int("regions", len(regions)))
	} else {
		log.Warn("no regions loaded; flights will have null region references")
	}

	norm := normalizer.New(resolver, log)
	pipeline := ingest.New(store, registry.Default(), norm, cfg.Ingest.Config(), log)

	if cfg.Analytics.Enabled {
		ch, err := storage.OpenClickHouse(ctx, cfg.Analytics.ClickHouseConfig)
		if err != nil {
			return nil, err
		}
		if err := ch.CreateSchema(ctx); err != nil {
			return nil, err
		}
		pipeline.SetEventSink(ch)
	}
	return pipeline, nil
}

func loadRows(path string) ([]workbook.Row, error) {
	reader, closer, err := workbook.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = closer.Close() }()

	var rows []workbook.Row
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, *row)
	}
	return rows, nil
}
