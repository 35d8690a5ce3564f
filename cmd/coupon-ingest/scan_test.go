package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func testOptions() scanOptions {
	return scanOptions{
		MinLen:        8,
		MaxLen:        10,
		MinFiles:      2,
		BloomCapacity: 1000,
		BloomFPR:      0.001,
	}
}

func TestFindCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "ALPHA123", "charlie7x", "short", "ONLYINAA"),
		writeGz(t, dir, "b.gz", "alpha123 ", "CHARLIE7X", "WAYTOOLONGCODE"),
		writeGz(t, dir, "c.gz", "CHARLIE7X", "BRAVO456", "", "short"),
	}

	codes, err := findCodes(context.Background(), files, testOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA123", "CHARLIE7X"}, codes)
}

func TestFindCodes_MinFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "ALPHA123", "CHARLIE7X"),
		writeGz(t, dir, "b.gz", "ALPHA123", "CHARLIE7X"),
		writeGz(t, dir, "c.gz", "CHARLIE7X"),
	}

	opts := testOptions()
	opts.MinFiles = 3
	codes, err := findCodes(context.Background(), files, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"CHARLIE7X"}, codes)

	opts.MinFiles = 4
	_, err = findCodes(context.Background(), files, opts)
	require.Error(t, err)
}

func TestFindCodes_SingleFile(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.gz", "charlie7x", "ALPHA123", "short", "alpha123")}

	opts := testOptions()
	opts.MinFiles = 1
	codes, err := findCodes(context.Background(), files, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA123", "CHARLIE7X"}, codes)

	opts.MinFiles = 0
	_, err = findCodes(context.Background(), files, opts)
	require.Error(t, err)
}

func TestMatchFiles(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "couponbase1.gz", "ALPHA123")
	pattern := filepath.Join(dir, "couponbase*.gz")

	files, err := matchFiles(pattern, 1)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = matchFiles(pattern, 2)
	require.Error(t, err)

	writeGz(t, dir, "couponbase2.gz", "ALPHA123")
	files, err = matchFiles(pattern, 2)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = matchFiles(filepath.Join(dir, "none*.gz"), 1)
	require.Error(t, err)
}

func TestFindCodes_MissingFile(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "ALPHA123"),
		filepath.Join(dir, "missing.gz"),
	}

	_, err := findCodes(context.Background(), files, testOptions())
	require.Error(t, err)
}

func TestFindCodes_Cancelled(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "ALPHA123"),
		writeGz(t, dir, "b.gz", "ALPHA123"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := findCodes(ctx, files, testOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseRule(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rule, err := parseRule("PERCENTAGE", "12.5", 3, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, coupon.DiscountPercentage, rule.Type)
	assert.True(t, decimal.RequireFromString("12.5").Equal(rule.Value))
	require.NotNil(t, rule.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *rule.ExpiresAt)

	rule, err = parseRule("FIXED", "500", 0, 0, now)
	require.NoError(t, err)
	assert.Nil(t, rule.ExpiresAt)

	for _, tc := range []struct {
		name, typ, value string
		limit            int
	}{
		{"UnknownType", "BOGO", "1", 0},
		{"BadValue", "PERCENTAGE", "ten", 0},
		{"Negative", "FIXED", "-1", 0},
		{"PercentOver100", "PERCENTAGE", "101", 0},
		{"FractionalFixed", "FIXED", "4.5", 0},
		{"NegativeLimit", "PERCENTAGE", "10", -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRule(tc.typ, tc.value, tc.limit, 0, now)
			require.Error(t, err)
		})
	}
}

func TestCampaignRule_Coupons(t *testing.T) {
	rule := campaignRule{Type: coupon.DiscountFixed, Value: decimal.NewFromInt(500), UsageLimit: 2}

	out := rule.coupons([]string{"ALPHA123", "CHARLIE7X"})
	require.Len(t, out, 2)
	for _, c := range out {
		assert.Empty(t, c.ID)
		assert.True(t, c.IsActive)
		assert.Equal(t, coupon.DiscountFixed, c.DiscountType)
		require.NotNil(t, c.UsageLimit)
		assert.Equal(t, 2, *c.UsageLimit)
	}
	assert.Equal(t, "CHARLIE7X", out[1].Code)

	// Each coupon owns its limit.
	*out[0].UsageLimit = 9
	assert.Equal(t, 2, *out[1].UsageLimit)

	unlimited := campaignRule{Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10)}
	assert.Nil(t, unlimited.coupons([]string{"ALPHA123"})[0].UsageLimit)
}
