package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postwatch/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS publications (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      TEXT NOT NULL,
	source  TEXT NOT NULL,
	dest    TEXT,
	cause   TEXT NOT NULL,
	due     TEXT,
	err     TEXT
);
CREATE INDEX IF NOT EXISTS publications_at ON publications(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendPublication(ctx context.Context, p Publication) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publications(at, source, dest, cause, due, err) VALUES(?,?,?,?,?,?)`,
		p.At.Format(time.RFC3339Nano), p.Source, nullStr(p.Dest), string(p.Trigger),
		nullTime(p.Due), nullStr(p.Error),
	)
	return err
}

func (s *sqliteStore) RecentPublications(ctx context.Context, limit int) ([]Publication, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, source, dest, cause, due, err FROM publications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		var (
			at, source, trigger string
			dest, due, perr     sql.NullString
		)
		if err := rows.Scan(&at, &source, &dest, &trigger, &due, &perr); err != nil {
			return nil, err
		}
		p := Publication{Source: source, Dest: dest.String, Trigger: Trigger(trigger), Error: perr.String}
		if p.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			s.log.Debug("bad journal timestamp", logx.String("at", at), logx.Err(err))
		}
		if due.Valid {
			p.Due, _ = time.Parse(time.RFC3339Nano, due.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
