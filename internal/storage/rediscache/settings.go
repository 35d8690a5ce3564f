// Package rediscache provides a Redis read-through cache for shipping
// settings.
package rediscache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/pricing"
)

// DefaultKey is the cache key used for shipping settings.
const DefaultKey = "checkout:settings:shipping"

// Client is the subset of *redis.Client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// NewClient creates a Redis client from a redis:// URL or a host:port
// address.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
		if password != "" {
			opts.Password = password
		}
	}
	return redis.NewClient(opts), nil
}

var _ pricing.SettingsSource = (*SettingsCache)(nil)

// SettingsCache serves settings from Redis and falls back to next on a
// miss. Redis failures degrade to next; they never fail the checkout.
type SettingsCache struct {
	client Client
	next   pricing.SettingsSource
	key    string
	ttl    time.Duration
}

// NewSettingsCache wraps next with a cache entry that lives for ttl.
func NewSettingsCache(client Client, next pricing.SettingsSource, ttl time.Duration) *SettingsCache {
	return &SettingsCache{
		client: client,
		next:   next,
		key:    DefaultKey,
		ttl:    ttl,
	}
}

func (c *SettingsCache) ShippingSettings(ctx context.Context) (pricing.Settings, error) {
	lg := zctx.From(ctx)

	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		s, decodeErr := decodeSettings(raw)
		if decodeErr == nil {
			return s, nil
		}
		lg.Warn("Discarding malformed cached settings", zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Settings cache read failed", zap.Error(err))
	}

	s, err := c.next.ShippingSettings(ctx)
	if err != nil {
		return pricing.Settings{}, err
	}
	if err := c.client.Set(ctx, c.key, encodeSettings(s), c.ttl).Err(); err != nil {
		lg.Warn("Settings cache write failed", zap.Error(err))
	}
	return s, nil
}

func encodeSettings(s pricing.Settings) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("freeShippingThreshold")
	e.Int64(s.FreeShippingThreshold)
	e.FieldStart("flatShippingFee")
	e.Int64(s.FlatShippingFee)
	e.ObjEnd()
	return e.Bytes()
}

func decodeSettings(raw []byte) (pricing.Settings, error) {
	var (
		s             pricing.Settings
		seenThreshold bool
		seenFee       bool
	)
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "freeShippingThreshold":
			s.FreeShippingThreshold, err = d.Int64()
			seenThreshold = true
		case "flatShippingFee":
			s.FlatShippingFee, err = d.Int64()
			seenFee = true
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return pricing.Settings{}, errors.Wrap(err, "decode settings")
	}
	if !seenThreshold || !seenFee {
		return pricing.Settings{}, errors.New("incomplete cached settings")
	}
	return s, nil
}
