package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-coupons/internal/repository"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files without writing to the database")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.ndjson.gz files in %s", dataDir)
	}

	var sink upserter = discard{}
	if !dryRun {
		slog.Info("connecting to database")

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		sink = repository.NewCouponRepository(pool)
	}

	stats, err := importFiles(ctx, files, sink)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Int("read", stats.Read),
		slog.Int("invalid", stats.Invalid),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("upserted", stats.Upserted),
		slog.Bool("dry_run", dryRun),
	)
	return nil
}
