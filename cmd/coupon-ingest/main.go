package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-api/internal/repository"
)

// The partner feed ships coupon codes as three large gzipped text files, one
// code per line. A code is only honored when it appears in at least two of
// the files; single-file codes are feed noise. The files are too large to
// hold in memory, so pass 1 builds a bloom filter per file and pass 2
// re-streams each file testing codes against the other files' filters.
const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	numFiles      = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	writeBatch    = 1000
)

// rule is the discount attached to a recognized code pattern.
type rule struct {
	kind        string
	value       string
	description string
}

var knownRules = map[string]rule{
	"FIFTYOFF": {kind: "percent", value: "50", description: "50% off entire order"},
	"SIXTYOFF": {kind: "percent", value: "60", description: "60% off entire order"},
	"HAPPYHRS": {kind: "percent", value: "18", description: "Happy Hours: 18% off"},
	"GNULINUX": {kind: "percent", value: "15", description: "Open source discount: 15% off"},
	"OVER9000": {kind: "amount", value: "9", description: "$9 off your order"},
}

var defaultRule = rule{
	kind:        "percent",
	value:       "10",
	description: "Valid promo code: 10% off",
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", numFiles))

	filters, err := buildFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: collecting codes present in 2+ files")

	codes, err := collectValidCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writePromotions(ctx, pool, codes); err != nil {
		return errors.Wrap(err, "write promotions")
	}

	return nil
}

// buildFilters streams each file once and fills a bloom filter per file.
func buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			err := streamGzFile(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

// collectValidCodes re-streams each file, testing codes against the OTHER
// files' filters, then merges per-file presence bitmasks and keeps codes
// seen in two or more files.
func collectValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	perFile := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			var count uint64

			err := streamGzFile(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						candidates[code] |= fileBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			perFile[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range perFile {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

const upsertPromotionSQL = `
INSERT INTO promotions (code, kind, value, description, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (code) DO UPDATE SET
    kind = EXCLUDED.kind,
    value = EXCLUDED.value,
    description = EXCLUDED.description,
    active = TRUE
`

// writePromotions upserts the valid codes in batches.
func writePromotions(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing promotions", slog.Int("count", len(codes)))

	batch := &pgx.Batch{}
	written := 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		written += batch.Len()
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(codes)))
		batch = &pgx.Batch{}
		return nil
	}

	for _, code := range codes {
		r, ok := knownRules[code]
		if !ok {
			r = defaultRule
		}

		value, err := decimal.NewFromString(r.value)
		if err != nil {
			return errors.Wrapf(err, "parse discount value for code %s", code)
		}

		batch.Queue(upsertPromotionSQL, code, r.kind, value, r.description)
		if batch.Len() >= writeBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}
