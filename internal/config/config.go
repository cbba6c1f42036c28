// Package config содержит логику чтения конфигурации escrow-сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// DefaultAuthSecret: ключ подписи токенов для локального запуска. С базой
// данных сервис с ним не стартует.
const DefaultAuthSecret = "gigmarket-secret"

// Config содержит параметры конфигурации escrow-сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`

	GatewayAPIKey   string `env:"GATEWAY_API_KEY"`
	GatewayRetryMax int    `env:"GATEWAY_RETRY_MAX" envDefault:"3"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	AuthSecret      string `env:"AUTH_SECRET" envDefault:"gigmarket-secret"`

	PlatformFeeRate         decimal.Decimal `env:"PLATFORM_FEE_RATE" envDefault:"0.10"`
	AutoRejectCompetingBids bool            `env:"AUTO_REJECT_COMPETING_BIDS" envDefault:"false"`
	FraudMaxAmount          decimal.Decimal `env:"FRAUD_MAX_AMOUNT" envDefault:"0"`

	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 1m"`
	ReconcileAfter    time.Duration `env:"RECONCILE_AFTER" envDefault:"2m"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PlatformFeeRate.IsNegative() || c.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1), got %s", c.PlatformFeeRate)
	}
	if c.GatewayRetryMax < 0 {
		return fmt.Errorf("GATEWAY_RETRY_MAX must not be negative, got %d", c.GatewayRetryMax)
	}
	if c.FraudMaxAmount.IsNegative() {
		return fmt.Errorf("FRAUD_MAX_AMOUNT must not be negative, got %s", c.FraudMaxAmount)
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must not be empty")
	}
	if c.DatabaseURI != "" && c.UsesDefaultAuthSecret() {
		return fmt.Errorf("AUTH_SECRET must be set when DATABASE_URI is configured")
	}
	if c.ReconcileAfter <= 0 {
		return fmt.Errorf("RECONCILE_AFTER must be positive, got %s", c.ReconcileAfter)
	}
	return nil
}

// UsesDefaultAuthSecret сообщает, что токены подписываются общеизвестным ключом.
func (c *Config) UsesDefaultAuthSecret() bool {
	return c.AuthSecret == DefaultAuthSecret
}
