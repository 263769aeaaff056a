package storage

import (
	"errors"
	"strings"

	"chime/internal/reminder"
	logx "chime/pkg/logx"
)

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (reminder.Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
