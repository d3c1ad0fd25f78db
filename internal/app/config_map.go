package app

import (
	"strings"
	"time"

	"castbot/internal/config"
	"castbot/internal/dispatch"
	"castbot/internal/eventsink"
	"castbot/internal/httpapi"
	"castbot/internal/report"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	telegram "castbot/internal/transport/telegram/adapter"
	logx "castbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll, SendTimeout: send}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	base, err := config.ParseDurationOrDefault("dispatch.persist_retry_base", d.PersistRetryBase, config.DefaultPersistRetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	retry := d.PersistRetryMax
	if retry == 0 {
		retry = config.DefaultPersistRetryMax
	}
	return dispatch.Config{MaxConcurrency: d.MaxConcurrency, PersistRetryMax: retry, PersistRetryBase: base}, nil
}

func mapReportConfig(cfg *config.Config) report.Config {
	r := cfg.Report
	schedule := strings.TrimSpace(r.Schedule)
	if schedule == "" {
		schedule = config.DefaultReportSchedule
	}
	return report.Config{
		Enabled:  r.Enabled,
		Schedule: schedule,
		Timezone: r.Timezone,
		Target:   kit.ChatTarget{Ref: strings.TrimSpace(cfg.Telegram.GroupLog), TopicID: r.ThreadID},
	}
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return httpapi.Config{Enabled: h.Enabled, Addr: addr, Token: h.Token, Pprof: h.Pprof}
}

func mapSinkConfig(cfg *config.Config) (eventsink.Config, bool) {
	a := cfg.Events.AMQP
	ex := strings.TrimSpace(a.Exchange)
	if ex == "" {
		ex = config.DefaultAMQPExchange
	}
	return eventsink.Config{URL: a.URL, Exchange: ex, RoutingKey: a.RoutingKey}, a.Enabled
}
