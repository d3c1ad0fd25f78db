package config

import (
	"reflect"
	"sort"
	"strings"

	logx "castbot/pkg/logx"
)

// Change summarizes a config reload.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe structured fields for logging (never secrets).
	Attrs []logx.Field
	// RestartRequired lists changed sections that only take effect after a restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange diffs two configs. Nil is treated as the zero config.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.SendTimeout) != strings.TrimSpace(nt.SendTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		c.Sections = append(c.Sections, "telegram")
		c.Attrs = append(c.Attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
		if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.SendTimeout != nt.SendTimeout {
			c.RestartRequired = append(c.RestartRequired, "telegram")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		c.Sections = append(c.Sections, "logging")
		c.Attrs = append(c.Attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		c.Sections = append(c.Sections, "storage")
		c.RestartRequired = append(c.RestartRequired, "storage")
		c.Attrs = append(c.Attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	od, nd := oldCfg.Dispatch, newCfg.Dispatch
	if od.MaxConcurrency != nd.MaxConcurrency || od.Resume() != nd.Resume() ||
		od.PersistRetryMax != nd.PersistRetryMax || strings.TrimSpace(od.PersistRetryBase) != strings.TrimSpace(nd.PersistRetryBase) {
		c.Sections = append(c.Sections, "dispatch")
		c.Attrs = append(c.Attrs,
			logx.Int("dispatch.max_concurrency", nd.MaxConcurrency),
			logx.Bool("dispatch.resume_on_start", nd.Resume()),
			logx.Int("dispatch.persist_retry_max", nd.PersistRetryMax),
		)
	}

	if oldCfg.Report != newCfg.Report {
		c.Sections = append(c.Sections, "report")
		c.Attrs = append(c.Attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", newCfg.Report.Schedule),
			logx.String("report.timezone", newCfg.Report.Timezone),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		c.Sections = append(c.Sections, "http")
		c.RestartRequired = append(c.RestartRequired, "http")
		c.Attrs = append(c.Attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Events != newCfg.Events {
		c.Sections = append(c.Sections, "events")
		c.RestartRequired = append(c.RestartRequired, "events")
		c.Attrs = append(c.Attrs, logx.Bool("events.amqp.enabled", newCfg.Events.AMQP.Enabled))
	}

	sort.Strings(c.Sections)
	sort.Strings(c.RestartRequired)
	return c
}
