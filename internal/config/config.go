package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`

	// Empty means the in-memory ledger; set to persist transactions and
	// acknowledgement records in Postgres.
	DatabaseURL string `env:"DATABASE_URL"`

	// Tenant to provider name, e.g. GATEWAY_TENANTS="acme:hookpay,globex:tokenpay".
	Tenants map[string]string `env:"GATEWAY_TENANTS" envSeparator:"," envKeyValSeparator:":"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`

	HookpayBaseURL string `env:"HOOKPAY_BASE_URL" envDefault:"http://mock-provider:8081"`
	HookpaySecret  string `env:"HOOKPAY_SECRET,required"`

	TokenpayBaseURL     string `env:"TOKENPAY_BASE_URL" envDefault:"http://mock-provider:8081"`
	TokenpayAPIKey      string `env:"TOKENPAY_API_KEY"`
	TokenpayTokenSecret string `env:"TOKENPAY_TOKEN_SECRET"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
