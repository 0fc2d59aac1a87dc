package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Development bool `env:"DEVELOPMENT" envDefault:"false"`
	// API configuration
	APIPort int `env:"API_PORT" envDefault:"6532"`
	// Postgres configuration
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"password"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"settlement"`
	// SQLiteDSN switches the ledger store to sqlite when set (local runs only).
	SQLiteDSN string `env:"SQLITE_DSN"`
	// StoreTimeout bounds every ledger store call issued by the core.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`

	// Settlement configuration
	MaxOverpayPercent decimal.Decimal `env:"MAX_OVERPAY_PERCENT" envDefault:"10"`
	// DuplicateWindow is how far back pending purchases are matched to a deposit.
	DuplicateWindow time.Duration `env:"DUPLICATE_WINDOW" envDefault:"24h"`

	// Accrual configuration
	DefaultDailyRate decimal.Decimal `env:"DEFAULT_DAILY_RATE" envDefault:"0.125"`

	// Commission configuration
	DirectReferralPercent decimal.Decimal `env:"DIRECT_REFERRAL_PERCENT" envDefault:"10"`
	PoolBonusPercent      decimal.Decimal `env:"POOL_BONUS_PERCENT" envDefault:"5"`
	PoolAdminID           string          `env:"POOL_ADMIN_ID"`

	// Scheduler configuration
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`
	SchedulerWorkers  int           `env:"SCHEDULER_WORKERS" envDefault:"8"`

	// Kafka configuration
	KafkaBootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	KafkaTopic            string `env:"KAFKA_TOPIC" envDefault:"verified_payments"`
	KafkaGroupID          string `env:"KAFKA_GROUP_ID" envDefault:"settlement_core"`
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration made of the envDefault values only,
// ignoring the process environment.
func Default() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return cfg
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.SQLiteDSN == "" {
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	if c.MaxOverpayPercent.IsNegative() {
		return fmt.Errorf("MAX_OVERPAY_PERCENT cannot be negative")
	}

	if !c.DefaultDailyRate.IsPositive() {
		return fmt.Errorf("DEFAULT_DAILY_RATE must be positive")
	}

	if c.DirectReferralPercent.IsNegative() || c.PoolBonusPercent.IsNegative() {
		return fmt.Errorf("commission percentages cannot be negative")
	}

	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}

	if c.DuplicateWindow <= 0 {
		return fmt.Errorf("DUPLICATE_WINDOW must be positive")
	}

	return nil
}

// KafkaEnabled reports whether the payment queue consumer should run.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBootstrapServers != ""
}
