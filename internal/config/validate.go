package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout      = 10 * time.Second
	DefaultSendTimeout      = 30 * time.Second
	DefaultPersistRetryMax  = 3
	DefaultPersistRetryBase = 200 * time.Millisecond
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultReportSchedule   = "@every 24h"
	DefaultAMQPExchange     = "castbot.events"
)

// Validate checks fields that would otherwise fail late (at service start or
// reload). It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	add(err)
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	_, err = ParseDurationField("dispatch.persist_retry_base", cfg.Dispatch.PersistRetryBase)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Dispatch.MaxConcurrency < 0 {
		add(errors.New("dispatch.max_concurrency: must be >= 0"))
	}
	if cfg.Dispatch.PersistRetryMax < 0 {
		add(errors.New("dispatch.persist_retry_max: must be >= 0"))
	}
	if cfg.Report.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Report.Timezone); err != nil {
			add(fmt.Errorf("report.timezone: %w", err))
		}
	}
	if cfg.Events.AMQP.Enabled && strings.TrimSpace(cfg.Events.AMQP.URL) == "" {
		add(errors.New("events.amqp.url: required when enabled"))
	}
	return errors.Join(errs...)
}
