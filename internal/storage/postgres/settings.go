package postgres

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

// Setting keys.
const (
	KeyFreeShippingThreshold = "free_shipping_threshold"
	KeyFlatShippingFee       = "flat_shipping_fee"
)

const (
	getSettingsSQL = `SELECT key, value FROM settings WHERE key = ANY($1)`

	upsertSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
)

var _ pricing.SettingsSource = (*Settings)(nil)

// Settings reads shipping settings from the settings table. Missing keys
// fall back to the configured defaults.
type Settings struct {
	db       dbtx
	defaults pricing.Settings
}

// NewSettings returns a Settings source that uses the given pool.
func NewSettings(pool *pgxpool.Pool, defaults pricing.Settings) *Settings {
	return &Settings{db: pool, defaults: defaults}
}

func (s *Settings) ShippingSettings(ctx context.Context) (pricing.Settings, error) {
	rows, err := s.db.Query(ctx, getSettingsSQL, []string{KeyFreeShippingThreshold, KeyFlatShippingFee})
	if err != nil {
		return pricing.Settings{}, errors.Wrap(err, "get settings")
	}
	defer rows.Close()

	out := s.defaults
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return pricing.Settings{}, errors.Wrap(err, "scan setting")
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return pricing.Settings{}, errors.Wrapf(err, "setting %q", key)
		}
		switch key {
		case KeyFreeShippingThreshold:
			out.FreeShippingThreshold = n
		case KeyFlatShippingFee:
			out.FlatShippingFee = n
		}
	}
	if err := rows.Err(); err != nil {
		return pricing.Settings{}, errors.Wrap(err, "get settings")
	}
	return out, nil
}

// Put stores a setting value.
func (s *Settings) Put(ctx context.Context, key string, value int64) error {
	if _, err := s.db.Exec(ctx, upsertSettingSQL, key, strconv.FormatInt(value, 10)); err != nil {
		return errors.Wrapf(err, "put setting %q", key)
	}
	return nil
}
