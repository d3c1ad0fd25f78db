package storage

import (
	"fmt"
	"strings"

	logx "castbot/pkg/logx"
)

// DefaultFilePath is the directory used by the file driver when no path is set.
const DefaultFilePath = "broadcasts"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// checkCode rejects codes that cannot be used as a record key (and file name).
func checkCode(code string) error {
	if code == "" || len(code) > 64 {
		return fmt.Errorf("storage: invalid code %q", code)
	}
	for _, r := range code {
		switch {
		case r == '_', r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return fmt.Errorf("storage: invalid code %q", code)
		}
	}
	return nil
}
