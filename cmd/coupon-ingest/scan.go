package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

// maxFiles is bounded by the width of the per-code file bitmask.
const maxFiles = bits.UintSize

// scanOptions tunes code filtering and bloom filter sizing.
type scanOptions struct {
	MinLen        int
	MaxLen        int
	MinFiles      int
	BloomCapacity uint
	BloomFPR      float64
	ProgressEvery uint64
}

func (o scanOptions) accept(code string) bool {
	return len(code) >= o.MinLen && len(code) <= o.MaxLen
}

// normalizeCode upper-cases and trims a raw line. Coupon lookups are
// case-insensitive, so codes differing only in case are the same code.
func normalizeCode(line string) string {
	return strings.ToUpper(strings.TrimSpace(line))
}

// findCodes returns the codes that appear in at least opts.MinFiles of the
// given gzip files, sorted.
//
// Pass 1 builds one bloom filter per file. Pass 2 re-streams every file and
// records a code only when some other file's filter may contain it. Each
// file sets its own bit, so bloom false positives never reach the result.
// When MinFiles is 1, pass 1 is skipped and pass 2 records every code.
func findCodes(ctx context.Context, files []string, opts scanOptions) ([]string, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("too many files: %d (max %d)", len(files), maxFiles)
	}
	if opts.MinFiles < 1 || opts.MinFiles > len(files) {
		return nil, errors.Errorf("min files must be between 1 and %d, got %d", len(files), opts.MinFiles)
	}

	// With MinFiles 1 every code qualifies and no filters are needed.
	var filters []*bloom.BloomFilter
	if opts.MinFiles > 1 {
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
		var err error
		if filters, err = buildBloomFilters(ctx, files, opts); err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}
	}

	slog.Info("pass 2: finding candidate codes")
	masks := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			m, err := scanCandidates(gctx, i, f, filters, opts)
			if err != nil {
				return err
			}
			masks[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "find candidates")
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var codes []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.MinFiles {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func buildBloomFilters(ctx context.Context, files []string, opts scanOptions) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.BloomCapacity, opts.BloomFPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if opts.ProgressEvery > 0 && count%opts.ProgressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
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

func scanCandidates(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	opts scanOptions,
) (map[string]uint, error) {
	candidates := make(map[string]uint)
	fileBit := uint(1) << uint(idx)
	var count uint64

	if err := streamGzFile(ctx, path, func(code string) {
		if !opts.accept(code) {
			return
		}
		count++
		if opts.ProgressEvery > 0 && count%opts.ProgressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
		}

		if filters == nil {
			candidates[code] |= fileBit
			return
		}
		for j, f := range filters {
			if j != idx && f.TestString(code) {
				candidates[code] |= fileBit
				return
			}
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "scan file %d for candidates", idx+1)
	}

	slog.Info("pass 2 complete",
		slog.Int("file", idx+1),
		slog.Uint64("total_codes", count),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each
// normalized non-empty line.
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
		if code := normalizeCode(scanner.Text()); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
