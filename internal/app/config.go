package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/notify"
	"github.com/xenking/shopfront/internal/payment/momo"
	"github.com/xenking/shopfront/internal/payment/vnpay"
	"github.com/xenking/shopfront/internal/storage/redisstore"
)

const defaultAddr = "0.0.0.0:8080"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Redis     redisstore.Config
	Auth      AuthConfig
	Checkout  CheckoutConfig
	VNPay     vnpay.Config `env:"VNPAY" flag:"vnpay" yaml:"vnpay" json:"vnpay"`
	Momo      momo.Config
	SMTP      notify.Config
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Storage driver: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_STORAGE_DATABASE_URL or DATABASE_URL)"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret used to verify bearer tokens"`
	Issuer    string `usage:"Expected token issuer, empty to accept any"`
}

// CheckoutConfig holds order creation settings.
type CheckoutConfig struct {
	ShippingCharge string        `default:"25000" usage:"Flat shipping charge per order"`
	PaymentTimeout time.Duration `default:"10s" usage:"Timeout for payment URL creation after commit"`
	EmailTimeout   time.Duration `default:"10s" usage:"Timeout for the confirmation email after commit"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long Idempotency-Key responses are replayed"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
//
// Nested sections are addressed by their section name: the flag
// -vnpay.tmn_code, the env SHOP_VNPAY_TMN_CODE and the yaml key vnpay.tmn_code
// all set VNPay.TmnCode.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, loaderConfig(nil))
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loaderConfig returns the aconfig settings. Nil args means os.Args.
func loaderConfig(args []string) aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shopfront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
		Args: args,
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required: set SHOP_AUTH_JWT_SECRET")
	}
	if _, err := c.shippingCharge(); err != nil {
		return err
	}
	return nil
}

func (c *Config) shippingCharge() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.Checkout.ShippingCharge)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "parse shipping charge")
	}
	if v.IsNegative() {
		return decimal.Decimal{}, errors.New("shipping charge must not be negative")
	}
	return v, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Storage.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" && c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
