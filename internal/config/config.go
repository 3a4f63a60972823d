// Package config содержит логику чтения конфигурации сервиса бронирования занятий.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса бронирования занятий.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	NotifyGatewayAddress string `env:"NOTIFY_GATEWAY_ADDRESS"`
	AuthSecret           string `env:"AUTH_SECRET"`
	AdminToken           string `env:"ADMIN_TOKEN"`

	CancelWindow       time.Duration `env:"CANCEL_WINDOW" envDefault:"8h"`
	OrderTimeout       time.Duration `env:"ORDER_TIMEOUT" envDefault:"24h"`
	ReminderWindow     time.Duration `env:"REMINDER_WINDOW" envDefault:"24h"`
	PurgeGrace         time.Duration `env:"PURGE_GRACE" envDefault:"24h"`
	DialogTTL          time.Duration `env:"DIALOG_TTL" envDefault:"30m"`
	HousekeepingPeriod time.Duration `env:"HOUSEKEEPING_PERIOD" envDefault:"1m"`
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
	envNotifyAddress := cfg.NotifyGatewayAddress
	envAuthSecret := cfg.AuthSecret
	envAdminToken := cfg.AdminToken

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyGatewayAddress, "n", "", "notification gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookie signing")
	flag.StringVar(&cfg.AdminToken, "t", "", "token for privileged operations")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyGatewayAddress = envNotifyAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAdminToken != "" {
		cfg.AdminToken = envAdminToken
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
