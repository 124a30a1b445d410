package app

import (
	"fmt"
	"strings"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/storage"
)

const (
	defaultJournalPath = ".postwatch/journal"
	defaultBusyTimeout = time.Second
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = defaultJournalPath
		}
		return storage.Config{Driver: "file", Path: cfg.Path(path)}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultJournalPath + ".db"
		}
		busy := sc.BusyTimeout.D()
		if busy <= 0 {
			busy = defaultBusyTimeout
		}
		return storage.Config{Driver: driver, Path: cfg.Path(path), BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("%w: unknown storage.driver: %s", config.ErrInvalid, sc.Driver)
	}
}
