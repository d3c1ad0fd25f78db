package config

import (
	"os"
	"strings"
)

const (
	EnvTelegramToken = "CASTBOT_TELEGRAM_TOKEN"
	EnvStorageDSN    = "CASTBOT_STORAGE_DSN"
	EnvAMQPURL       = "CASTBOT_AMQP_URL"
)

// ApplyEnv overlays secrets from the environment onto cfg. Non-empty
// variables win over file values.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := env(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := env(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := env(EnvAMQPURL); v != "" {
		cfg.Events.AMQP.URL = v
	}
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }
