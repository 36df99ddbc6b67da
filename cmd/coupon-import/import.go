package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-coupons/internal/codec"
	"github.com/xenking/storefront-coupons/internal/domain/coupon"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxLineSize   = 1 << 20
	progressEvery = 10_000
)

type upserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// discard accepts every coupon, used for dry runs.
type discard struct{}

func (discard) Upsert(context.Context, *coupon.Coupon) error { return nil }

// Stats summarizes an import.
type Stats struct {
	Read       int
	Invalid    int
	Duplicates int
	Upserted   int
}

type record struct {
	file   string
	line   int
	coupon *coupon.Coupon
}

// dedup detects codes seen before. The bloom filter answers most lookups, the
// exact set only confirms its positives.
type dedup struct {
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		seen:   make(map[string]struct{}),
	}
}

// add records code and reports whether it was new.
func (d *dedup) add(code string) bool {
	if d.filter.TestString(code) {
		if _, ok := d.seen[code]; ok {
			return false
		}
	}
	d.filter.AddString(code)
	d.seen[code] = struct{}{}
	return true
}

// importFiles decodes every file concurrently and upserts the first
// definition of each code. Later definitions of a code are reported and
// skipped.
func importFiles(ctx context.Context, files []string, sink upserter) (Stats, error) {
	var (
		stats   Stats
		invalid = make([]int, len(files))
		records = make(chan record, 1024)
	)

	g, ctx := errgroup.WithContext(ctx)

	readers, rctx := errgroup.WithContext(ctx)
	for i, path := range files {
		readers.Go(func() error {
			n, err := readFile(rctx, path, records)
			invalid[i] = n
			return err
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})

	g.Go(func() error {
		seen := newDedup()
		for r := range records {
			stats.Read++
			if !seen.add(r.coupon.Code) {
				stats.Duplicates++
				slog.Warn("duplicate coupon code skipped",
					slog.String("code", r.coupon.Code),
					slog.String("file", r.file),
					slog.Int("line", r.line),
				)
				continue
			}
			if err := sink.Upsert(ctx, r.coupon); err != nil {
				return errors.Wrapf(err, "%s:%d", r.file, r.line)
			}
			stats.Upserted++
			if stats.Upserted%progressEvery == 0 {
				slog.Info("import progress", slog.Int("upserted", stats.Upserted))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	for _, n := range invalid {
		stats.Invalid += n
		stats.Read += n
	}
	return stats, nil
}

// readFile streams the NDJSON lines of a gzip file into out and returns the
// number of invalid lines it skipped.
func readFile(ctx context.Context, path string, out chan<- record) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var (
		invalid int
		line    int
	)
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		c, err := codec.DecodeCoupon(jx.DecodeBytes(raw))
		if err != nil {
			invalid++
			slog.Warn("invalid coupon definition skipped",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case out <- record{file: path, line: line, coupon: c}:
		case <-ctx.Done():
			return invalid, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return invalid, errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file read", slog.String("file", path), slog.Int("lines", line), slog.Int("invalid", invalid))
	return invalid, nil
}
