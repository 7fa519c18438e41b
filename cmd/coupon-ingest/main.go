package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	maxFiles      = bits.UintSize
)

type options struct {
	files       []string
	minFiles    int
	minLen      int
	maxLen      int
	capacity    uint
	template    coupon.Draft
	dryRun      bool
	databaseURL string
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		opts       options
		pattern    string
		discount   string
		value      string
		usageLimit int
		expires    string
	)

	flag.StringVar(&pattern, "files", "data/*.gz", "glob of gzipped code files, one code per line")
	flag.IntVar(&opts.minFiles, "min-files", 2, "keep codes present in at least this many files")
	flag.IntVar(&opts.minLen, "min-len", 4, "shortest accepted code")
	flag.IntVar(&opts.maxLen, "max-len", 32, "longest accepted code")
	flag.UintVar(&opts.capacity, "capacity", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.StringVar(&discount, "type", string(coupon.DiscountPercentage), "discount type: percentage or fixed")
	flag.StringVar(&value, "value", "10", "discount value")
	flag.IntVar(&usageLimit, "usage-limit", 0, "redemptions per code, 0 for unlimited")
	flag.StringVar(&expires, "expires", "", "expiration as RFC 3339 (default one year from now)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "report the codes that would be created without writing")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		slog.Error("invalid --files pattern", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.files = files

	tmpl, err := buildTemplate(discount, value, usageLimit, expires)
	if err != nil {
		slog.Error("invalid coupon template", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.template = tmpl

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func buildTemplate(discount, value string, usageLimit int, expires string) (coupon.Draft, error) {
	dt, err := coupon.ParseDiscountType(discount)
	if err != nil {
		return coupon.Draft{}, err
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return coupon.Draft{}, errors.Wrap(err, "parse --value")
	}

	exp := time.Now().AddDate(1, 0, 0).UTC()
	if expires != "" {
		if exp, err = time.Parse(time.RFC3339, expires); err != nil {
			return coupon.Draft{}, errors.Wrap(err, "parse --expires")
		}
	}

	d := coupon.Draft{
		DiscountType:   dt,
		DiscountValue:  v,
		ExpirationDate: exp,
		IsActive:       true,
		ApplicableType: coupon.ApplicableAll,
	}
	if usageLimit > 0 {
		d.UsageLimit = &usageLimit
	}
	return d, nil
}

func run(ctx context.Context, opts options) error {
	switch {
	case len(opts.files) == 0:
		return errors.New("no input files matched")
	case len(opts.files) > maxFiles:
		return errors.Errorf("at most %d input files are supported, got %d", maxFiles, len(opts.files))
	case opts.minFiles < 1 || opts.minFiles > len(opts.files):
		return errors.Errorf("--min-files must be between 1 and %d", len(opts.files))
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(opts.files)))

	filters, err := buildBloomFilters(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Confirm codes present in enough files.
	slog.Info("pass 2: finding candidate codes", slog.Int("min_files", opts.minFiles))

	validCodes, err := findValidCodes(ctx, opts, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}
	if opts.dryRun {
		for _, code := range validCodes {
			slog.Info("would create coupon", slog.String("code", code))
		}
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc := coupon.NewService(repository.NewCouponRepository(pool))
	if err := writeCoupons(ctx, svc, opts.template, validCodes); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

func (o options) accept(code string) bool {
	return len(code) >= o.minLen && len(code) <= o.maxLen
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, opts options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(opts.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range opts.files {
		g.Go(buildFilterForFile(ctx, opts, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, opts options, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(opts.capacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if !opts.accept(code) {
				return
			}
			filter.AddString(code)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.String("file", path),
					slog.Uint64("codes", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for %s", path)
		}

		slog.Info("pass 1 complete",
			slog.String("file", path),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each file and keeps codes whose bloom hits in
// other files reach the threshold. Each file only sets its own bit, so the
// final popcount counts real occurrences and bloom false positives drop out.
func findValidCodes(ctx context.Context, opts options, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]fileResult, len(opts.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range opts.files {
		g.Go(findCandidatesInFile(ctx, opts, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	valid := lo.Keys(lo.PickBy(merged, func(_ string, mask uint) bool {
		return bits.OnesCount(mask) >= opts.minFiles
	}))
	return valid, nil
}

func findCandidatesInFile(
	ctx context.Context,
	opts options,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if !opts.accept(code) {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.String("file", path),
					slog.Uint64("codes", count),
				)
			}

			hits := 1
			for j, f := range filters {
				if j != idx && f.TestString(code) {
					hits++
				}
			}
			if hits >= opts.minFiles {
				candidates[code] |= fileBit
			}
		}); err != nil {
			return errors.Wrapf(err, "scan %s for candidates", path)
		}

		slog.Info("pass 2 complete",
			slog.String("file", path),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized
// line.
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
		fn(coupon.NormalizeCode(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons creates a coupon per code from the template. Codes that
// already exist are left untouched.
func writeCoupons(ctx context.Context, svc *coupon.Service, tmpl coupon.Draft, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	var created, skipped int
	for i, code := range codes {
		d := tmpl
		d.Code = code

		_, err := svc.Create(ctx, d)
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			skipped++
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", code)
		default:
			created++
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress",
				slog.Int("written", i+1),
				slog.Int("total", len(codes)),
				slog.Int("created", created),
				slog.Int("skipped", skipped),
			)
		}
	}

	return nil
}
