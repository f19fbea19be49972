package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/fees"
)

type Config struct {
	DatabaseURL string        `env:"DATABASE_URL,required"`
	RedisURL    string        `env:"REDIS_URL"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"1h"`
	// APIClients is a comma separated list of client_id:bcrypt_hash[:role].
	APIClients    []string `env:"API_CLIENTS" envSeparator:","`
	WebhookSecret string   `env:"WEBHOOK_SECRET"`
	Port          int      `env:"PORT" envDefault:"8080"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string   `env:"APP_ENV" envDefault:"production"`
	CORSOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	ProviderURL          string        `env:"PROVIDER_URL" envDefault:"http://mock-provider:8081"`
	ProviderClientID     string        `env:"PROVIDER_CLIENT_ID" envDefault:"recon-engine"`
	ProviderClientSecret string        `env:"PROVIDER_CLIENT_SECRET"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	OrderStatusTTL       time.Duration `env:"ORDER_STATUS_TTL" envDefault:"30s"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
	PollCallDelay   time.Duration `env:"POLL_CALL_DELAY" envDefault:"250ms"`
	PollCallTimeout time.Duration `env:"POLL_CALL_TIMEOUT" envDefault:"30s"`
	PollConcurrency int           `env:"POLL_CONCURRENCY" envDefault:"1"`
	PollBatchSize   int           `env:"POLL_BATCH_SIZE" envDefault:"500"`

	FiatRatesFile string `env:"FIAT_RATES_FILE"`
	StableAsset   string `env:"STABLE_ASSET" envDefault:"USDT"`
	ReferenceFiat string `env:"REFERENCE_FIAT" envDefault:"USD"`

	FeeScheduleVersion string `env:"FEE_SCHEDULE_VERSION" envDefault:"default"`
	BuyerFeeRate       string `env:"BUYER_FEE_RATE" envDefault:"0.001"`
	SellerFeeRate      string `env:"SELLER_FEE_RATE" envDefault:"0.001"`
	ConversionFeeRate  string `env:"CONVERSION_FEE_RATE" envDefault:"0.005"`
	ManagementFeeRate  string `env:"MANAGEMENT_FEE_RATE" envDefault:"0.01"`
	FeeMin             string `env:"FEE_MIN" envDefault:"1.00"`
	FeeMax             string `env:"FEE_MAX" envDefault:"500.00"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectAttempts  int `env:"DB_CONNECT_ATTEMPTS" envDefault:"10"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.PollConcurrency < 1 {
		cfg.PollConcurrency = 1
	}
	return &cfg, nil
}

// InsecureWebhooks reports whether webhook signatures are skipped.
func (c *Config) InsecureWebhooks() bool {
	return c.WebhookSecret == ""
}

// FeeSchedule builds the immutable schedule the calculator is created with.
func (c *Config) FeeSchedule() (fees.Schedule, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("FeeSchedule: %s=%q: %w", name, v, domain.ErrInvalidRequest)
		}
		return d, nil
	}

	values := map[string]string{
		"BUYER_FEE_RATE":      c.BuyerFeeRate,
		"SELLER_FEE_RATE":     c.SellerFeeRate,
		"CONVERSION_FEE_RATE": c.ConversionFeeRate,
		"MANAGEMENT_FEE_RATE": c.ManagementFeeRate,
		"FEE_MIN":             c.FeeMin,
		"FEE_MAX":             c.FeeMax,
	}
	parsed := make(map[string]decimal.Decimal, len(values))
	for name, v := range values {
		d, err := parse(name, v)
		if err != nil {
			return fees.Schedule{}, err
		}
		parsed[name] = d
	}

	bounds := fees.Bounds{Min: parsed["FEE_MIN"], Max: parsed["FEE_MAX"]}
	s := fees.Schedule{
		Version:          c.FeeScheduleVersion,
		BuyerRate:        parsed["BUYER_FEE_RATE"],
		SellerRate:       parsed["SELLER_FEE_RATE"],
		ConversionRate:   parsed["CONVERSION_FEE_RATE"],
		ManagementRate:   parsed["MANAGEMENT_FEE_RATE"],
		BuyerBounds:      bounds,
		SellerBounds:     bounds,
		ConversionBounds: bounds,
		ManagementBounds: bounds,
	}
	if err := s.Validate(); err != nil {
		return fees.Schedule{}, fmt.Errorf("FeeSchedule: %w", err)
	}
	return s, nil
}
