package app

import (
	"net/http"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Shipping     ShippingConfig
	Loyalty      LoyaltyConfig
	Redis        RedisConfig
	Events       events.Config
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// ShippingConfig holds the defaults used when the settings table has no
// value.
type ShippingConfig struct {
	FreeThreshold int64 `default:"20000" usage:"Subtotal in minor units at which shipping is free"`
	FlatFee       int64 `default:"2990" usage:"Shipping fee in minor units below the threshold"`
}

// LoyaltyConfig holds the loyalty tier table as "minSpent:percent" pairs.
type LoyaltyConfig struct {
	Tiers string `default:"1000000:10,500000:7,200000:5,100000:3" usage:"Loyalty tiers (minSpent:percent, comma separated)"`
}

// RedisConfig enables the settings cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address or redis:// URL (SHOP_REDIS_ADDR or REDIS_URL)"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	TTL      time.Duration `default:"30s" usage:"Settings cache TTL"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
//
// Clients are keyed by the connection's remote address. TrustProxy keys them
// by X-User-ID, then X-Forwarded-For or X-Real-IP, instead; enable it only
// behind a gateway that overwrites those headers, since clients can rotate
// them freely.
type RateLimitConfig struct {
	Max        int           `default:"100" usage:"Max read requests per window"`
	WriteMax   int           `default:"20" usage:"Max POST requests (checkouts, cancellations) per window"`
	Window     time.Duration `default:"1m" usage:"Rate limit window duration"`
	TrustProxy bool          `default:"false" usage:"Key rate limits on gateway-set X-User-ID and forwarding headers"`
}

// clientKey returns how the rate limiter identifies clients.
func (c RateLimitConfig) clientKey() func(*http.Request) string {
	if c.TrustProxy {
		return httpmiddleware.HeaderOrIP(handler.HeaderUserID)
	}
	return httpmiddleware.RemoteIP
}

// CORSConfig enables browser access for the listed origins.
type CORSConfig struct {
	Origins []string      `usage:"Allowed CORS origins, comma separated (empty disables CORS)"`
	MaxAge  time.Duration `default:"10m" usage:"Preflight cache duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// ShippingDefaults returns the configured shipping settings.
func (c *Config) ShippingDefaults() pricing.Settings {
	return pricing.Settings{
		FreeShippingThreshold: c.Shipping.FreeThreshold,
		FlatShippingFee:       c.Shipping.FlatFee,
	}
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform fallbacks.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Shipping.FreeThreshold < 0 || c.Shipping.FlatFee < 0 {
		return errors.New("shipping threshold and fee must not be negative")
	}
	if _, err := pricing.ParseTiers(c.Loyalty.Tiers); err != nil {
		return errors.Wrap(err, "loyalty tiers")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, REDIS_URL, PORT) to the SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
