package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Report   ReportConfig   `json:"report"`
	HTTP     HTTPConfig     `json:"http"`
	Events   EventsConfig   `json:"events"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendTimeout bounds a single delivery attempt. Default "30s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the campaign store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./broadcasts" }
//
// Drivers: file (path is a directory), sqlite (path is the db file),
// postgres (dsn), memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig tunes the dispatch engine.
//
// ResumeOnStart is a pointer so an omitted key defaults to true.
type DispatchConfig struct {
	MaxConcurrency   int    `json:"max_concurrency,omitempty"` // 0 = unlimited
	ResumeOnStart    *bool  `json:"resume_on_start,omitempty"`
	PersistRetryMax  int    `json:"persist_retry_max,omitempty"`
	PersistRetryBase string `json:"persist_retry_base,omitempty"`
}

func (d DispatchConfig) Resume() bool {
	return d.ResumeOnStart == nil || *d.ResumeOnStart
}

// ReportConfig controls the periodic campaign digest sent to telegram.group_log.
//
// Schedule accepts a cron expression ("0 9 * * *") or an interval
// ("@every 6h" / "6h").
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// HTTPConfig controls the status API.
//
// Prefer binding to localhost. Token is an optional bearer token (never logged).
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type EventsConfig struct {
	AMQP AMQPConfig `json:"amqp"`
}

type AMQPConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key,omitempty"`
}
