package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"postwatch/internal/schedule"
	logx "postwatch/pkg/logx"
)

// Rescanner reconciles the index with the schedule directory, on a cron
// schedule and on demand (after a lost-events overflow).
type Rescanner struct {
	posts  Posts
	index  *schedule.Index
	layout Layout
	notify func()
	log    logx.Logger

	spec   string
	parser cron.Parser

	mu      sync.Mutex // one rescan at a time
	trigger chan struct{}
}

func NewRescanner(posts Posts, index *schedule.Index, layout Layout, spec string, notify func(), log logx.Logger) *Rescanner {
	if notify == nil {
		notify = func() {}
	}
	return &Rescanner{
		posts:  posts,
		index:  index,
		layout: layout,
		notify: notify,
		log:    log,
		spec:   strings.TrimSpace(spec),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		trigger: make(chan struct{}, 1),
	}
}

// Validate checks the cron spec ("" is valid and disables the schedule).
func (r *Rescanner) Validate() error {
	if r.spec == "" {
		return nil
	}
	if _, err := r.parser.Parse(r.spec); err != nil {
		return fmt.Errorf("rescan spec %q: %w", r.spec, err)
	}
	return nil
}

// Trigger requests a rescan without blocking. Requests made while one is
// pending are merged.
func (r *Rescanner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Rescan upserts every readable post, removes entries whose file is gone,
// and notifies the scheduler once if anything changed.
func (r *Rescanner) Rescan() (upserted, removed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, err := r.posts.ScanScheduled()
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]struct{}, len(found))
	for _, f := range found {
		key := r.layout.Key(f.Path)
		seen[key] = struct{}{}
		if f.Err != nil {
			r.log.Debug("rescan: unreadable post", logx.String("path", key), logx.Err(f.Err))
			continue
		}
		// published meanwhile
		if !r.posts.Exists(f.Path) {
			continue
		}
		changed := r.index.Upsert(key, f.At)
		// the scheduler may have published it between the check and the upsert
		if !r.posts.Exists(f.Path) {
			if at, ok := r.index.Lookup(key); ok && at.Equal(f.At) {
				r.index.Remove(key)
			}
			continue
		}
		if changed {
			upserted++
		}
	}
	for _, key := range r.index.Paths() {
		if _, ok := seen[key]; ok {
			continue
		}
		if r.index.Remove(key) {
			removed++
		}
	}
	if upserted+removed > 0 {
		r.log.Info("rescan reconciled index", logx.Int("upserted", upserted), logx.Int("removed", removed))
		r.notify()
	}
	return upserted, removed, nil
}

func (r *Rescanner) runOnce() {
	if _, _, err := r.Rescan(); err != nil {
		r.log.Warn("rescan failed", logx.Err(err))
	}
}

// Run serves Trigger requests and the cron schedule until ctx is done.
func (r *Rescanner) Run(ctx context.Context) error {
	if r.spec != "" {
		c := cron.New(cron.WithParser(r.parser))
		if _, err := c.AddFunc(r.spec, r.Trigger); err != nil {
			return fmt.Errorf("rescan spec %q: %w", r.spec, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		r.log.Debug("periodic rescan enabled", logx.String("spec", r.spec))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
			r.runOnce()
		}
	}
}
