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
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const batchSize = 50_000

// campaignRule is the discount applied to every imported code.
type campaignRule struct {
	Type       coupon.DiscountType
	Value      decimal.Decimal
	UsageLimit int
	ExpiresAt  *time.Time
}

func parseRule(discountType, value string, usageLimit int, expiresIn time.Duration, now time.Time) (campaignRule, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return campaignRule{}, errors.Wrapf(err, "parse discount value %q", value)
	}
	if v.IsNegative() {
		return campaignRule{}, errors.Errorf("discount value must not be negative, got %s", v)
	}

	rule := campaignRule{Type: coupon.DiscountType(discountType), Value: v, UsageLimit: usageLimit}
	switch rule.Type {
	case coupon.DiscountPercentage:
		if v.GreaterThan(decimal.NewFromInt(100)) {
			return campaignRule{}, errors.Errorf("percentage must be at most 100, got %s", v)
		}
	case coupon.DiscountFixed:
		if !v.IsInteger() {
			return campaignRule{}, errors.Errorf("fixed discount is in minor units, got %s", v)
		}
	default:
		return campaignRule{}, errors.Errorf("unknown discount type %q", discountType)
	}
	if usageLimit < 0 {
		return campaignRule{}, errors.Errorf("usage limit must not be negative, got %d", usageLimit)
	}
	if expiresIn > 0 {
		at := now.Add(expiresIn)
		rule.ExpiresAt = &at
	}
	return rule, nil
}

// coupons builds one active coupon per code. IDs are assigned on import.
func (r campaignRule) coupons(codes []string) []coupon.Coupon {
	out := make([]coupon.Coupon, len(codes))
	for i, code := range codes {
		c := coupon.Coupon{
			Code:          code,
			DiscountType:  r.Type,
			DiscountValue: r.Value,
			IsActive:      true,
			ExpiresAt:     r.ExpiresAt,
		}
		if r.UsageLimit > 0 {
			limit := r.UsageLimit
			c.UsageLimit = &limit
		}
		out[i] = c
	}
	return out
}

func main() {
	var (
		pattern      string
		databaseURL  string
		discountType string
		value        string
		usageLimit   int
		expiresIn    time.Duration
		dryRun       bool
		opts         scanOptions
	)

	flag.StringVar(&pattern, "files", "data/couponbase*.gz", "glob of gzip files with one code per line")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "discount-type", string(coupon.DiscountPercentage), "PERCENTAGE or FIXED")
	flag.StringVar(&value, "discount-value", "10", "percentage, or fixed amount in minor units")
	flag.IntVar(&usageLimit, "usage-limit", 0, "uses allowed per code, 0 for unlimited")
	flag.DurationVar(&expiresIn, "expires-in", 0, "expiry relative to now, 0 for never")
	flag.BoolVar(&dryRun, "dry-run", false, "scan files and report without writing")
	flag.IntVar(&opts.MinLen, "min-len", 8, "minimum code length")
	flag.IntVar(&opts.MaxLen, "max-len", 10, "maximum code length")
	flag.IntVar(&opts.MinFiles, "min-files", 2, "files a code must appear in to be valid")
	flag.UintVar(&opts.BloomCapacity, "bloom-capacity", 120_000_000, "expected codes per file")
	flag.Float64Var(&opts.BloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.Uint64Var(&opts.ProgressEvery, "progress-every", 10_000_000, "log progress every N codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	rule, err := parseRule(discountType, value, usageLimit, expiresIn, time.Now())
	if err != nil {
		slog.Error("invalid campaign rule", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, rule, opts, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

// matchFiles expands pattern and requires at least minFiles matches.
func matchFiles(pattern string, minFiles int) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %q", pattern)
	}
	if len(files) == 0 || len(files) < minFiles {
		return nil, errors.Errorf("need at least %d files matching %q, found %d", max(minFiles, 1), pattern, len(files))
	}
	return files, nil
}

func run(ctx context.Context, pattern, databaseURL string, rule campaignRule, opts scanOptions, dryRun bool) error {
	files, err := matchFiles(pattern, opts.MinFiles)
	if err != nil {
		return err
	}

	codes, err := findCodes(ctx, files, opts)
	if err != nil {
		return err
	}
	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 || dryRun {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	admin := postgres.NewAdmin(pool)
	var inserted int64
	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))
		n, err := admin.ImportCoupons(ctx, rule.coupons(codes[start:end]))
		if err != nil {
			return errors.Wrapf(err, "import batch at %d", start)
		}
		inserted += n
		slog.Info("write progress",
			slog.Int("written", end),
			slog.Int("total", len(codes)),
			slog.Int64("inserted", inserted),
		)
	}

	slog.Info("coupons imported",
		slog.Int64("inserted", inserted),
		slog.Int64("skipped", int64(len(codes))-inserted),
	)
	return nil
}
