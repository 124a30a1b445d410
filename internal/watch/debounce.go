package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const minFlushInterval = 50 * time.Millisecond

// Pending is a path whose raw events have gone quiet for the debounce window.
type Pending struct {
	Path     string
	Removed  bool
	LastSeen time.Time
}

type record struct {
	lastSeen time.Time
	removed  bool
}

// Debouncer collapses raw events per path. A path is released once window has
// elapsed since its last raw event.
type Debouncer struct {
	clock  clockwork.Clock
	window time.Duration

	mu      sync.Mutex
	pending map[string]record
}

func NewDebouncer(clock clockwork.Clock, window time.Duration) *Debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer{clock: clock, window: window, pending: map[string]record{}}
}

// Interval is the flush ticker period: a quarter of the window, at least 50ms.
func (d *Debouncer) Interval() time.Duration {
	iv := d.window / 4
	if iv < minFlushInterval {
		iv = minFlushInterval
	}
	return iv
}

// Observe refreshes the record for path. The removed flag of the latest raw
// event wins.
func (d *Debouncer) Observe(path string, removed bool) {
	now := d.clock.Now()
	d.mu.Lock()
	d.pending[path] = record{lastSeen: now, removed: removed}
	d.mu.Unlock()
}

// Flush releases and evicts every record idle for at least the window, ordered
// by last-seen then path.
func (d *Debouncer) Flush(now time.Time) []Pending {
	d.mu.Lock()
	var out []Pending
	for p, r := range d.pending {
		if now.Sub(r.lastSeen) < d.window {
			continue
		}
		out = append(out, Pending{Path: p, Removed: r.removed, LastSeen: r.lastSeen})
		delete(d.pending, p)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.Before(out[j].LastSeen)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Run flushes on every tick until ctx is done, handing released paths to emit.
// emit runs on the flush goroutine; a slow emit delays later releases but
// never loses them.
func (d *Debouncer) Run(ctx context.Context, emit func([]Pending) error) error {
	ticker := d.clock.NewTicker(d.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			ready := d.Flush(d.clock.Now())
			if len(ready) == 0 {
				continue
			}
			if err := emit(ready); err != nil {
				return err
			}
		}
	}
}
