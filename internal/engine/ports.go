// Package engine is the scheduled-publication engine: it routes debounced
// changes, keeps the schedule index current and publishes each post once its
// instant has come.
package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"postwatch/internal/content"
)

// Publisher moves one post into the published tree.
type Publisher interface {
	PublishPost(path string) (string, error)
}

// Rebuilder rebuilds the site.
type Rebuilder interface {
	RebuildSite(ctx context.Context) error
}

// Posts reads post metadata.
type Posts interface {
	ExtractScheduledInstant(path string) (time.Time, error)
	ScanScheduled() ([]content.Scheduled, error)
	Exists(path string) bool
}

// Layout maps between absolute paths and index keys (slash separated,
// relative to the site root) and tells which directory a path belongs to.
type Layout struct {
	Root        string
	ScheduleDir string
	DraftsDir   string
}

func (l Layout) Key(abs string) string {
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (l Layout) Abs(key string) string {
	p := filepath.FromSlash(key)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}

func (l Layout) InSchedule(abs string) bool { return within(l.ScheduleDir, abs) }

func (l Layout) InDrafts(abs string) bool { return within(l.DraftsDir, abs) }

func within(dir, p string) bool {
	if dir == "" {
		return false
	}
	dir = filepath.Clean(dir)
	p = filepath.Clean(p)
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}
