package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/shopfront/internal/couponimport"
	"github.com/xenking/shopfront/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		cfg         couponimport.Config
	)

	flag.StringVar(&pattern, "files", "data/coupons*.csv.gz", "glob of gzip-compressed CSV files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.BatchSize, "batch-size", 1000, "coupons per write")
	flag.UintVar(&cfg.ExpectedCodes, "expected-codes", 10_000_000, "expected number of distinct codes")
	flag.Float64Var(&cfg.FalsePositiveRate, "fp-rate", 0.0001, "dedupe filter false positive rate")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, pattern, cfg); err != nil {
		slog.Error("import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, pattern string, cfg couponimport.Config) error {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(paths) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("importing coupons", slog.Int("files", len(paths)))
	start := time.Now()

	stats, err := couponimport.New(postgres.NewStore(pool), cfg, slog.Default()).Import(ctx, paths)
	if err != nil {
		return err
	}

	slog.Info("import completed",
		slog.Int("rows", stats.Rows),
		slog.Int("rejected", stats.Rejected),
		slog.Int("deferred", stats.Deferred),
		slog.Int("written", stats.Written),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
