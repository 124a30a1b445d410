package storage

import (
	"context"
	"errors"
	"strings"

	logx "postwatch/pkg/logx"
)

// Store is the journal API used by the engine and the CLI.
type Store interface {
	AppendPublication(ctx context.Context, p Publication) error
	// RecentPublications returns up to limit entries, newest first.
	RecentPublications(ctx context.Context, limit int) ([]Publication, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
