package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"postwatch/internal/schedule"
	"postwatch/internal/storage"
	logx "postwatch/pkg/logx"
)

var (
	t0     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	layout = Layout{
		Root:        "/site",
		ScheduleDir: "/site/content/drafts/scheduled",
		DraftsDir:   "/site/content/drafts",
	}
)

func sched(name string) string { return "content/drafts/scheduled/" + name }

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	done  chan string
	// during runs inside PublishPost, before it returns
	during func(path string)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fail: map[string]error{}, done: make(chan string, 64)}
}

func (f *fakePublisher) PublishPost(path string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	err := f.fail[path]
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during(path)
	}
	f.done <- path
	if err != nil {
		return "", err
	}
	return filepath.Join("/site/content/posts", filepath.Base(path)), nil
}

func (f *fakePublisher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePublisher) wait(t *testing.T) string {
	t.Helper()
	select {
	case p := <-f.done:
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("no publication")
		return ""
	}
}

func (f *fakePublisher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case p := <-f.done:
		t.Fatalf("unexpected publication of %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}

type memJournal struct {
	mu      sync.Mutex
	entries []storage.Publication
	err     error
}

func (j *memJournal) AppendPublication(_ context.Context, p storage.Publication) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, p)
	return nil
}

func (j *memJournal) RecentPublications(_ context.Context, limit int) ([]storage.Publication, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []storage.Publication
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) all() []storage.Publication {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]storage.Publication(nil), j.entries...)
}

type fakeRebuilder struct {
	n   atomic.Int32
	err error
}

func (r *fakeRebuilder) RebuildSite(context.Context) error {
	r.n.Add(1)
	return r.err
}

var errBoom = errors.New("boom")

// harness runs a Scheduler on a fake clock and records its transitions.
type harness struct {
	clk     *clockwork.FakeClock
	idx     *schedule.Index
	pub     *fakePublisher
	journal *memJournal
	s       *Scheduler
	states  chan State

	overlap atomic.Bool
}

func newHarness(t *testing.T, maxSleep time.Duration) *harness {
	t.Helper()
	h := &harness{
		clk:     clockwork.NewFakeClockAt(t0),
		idx:     schedule.NewIndex(),
		pub:     newFakePublisher(),
		journal: &memJournal{},
		states:  make(chan State, 1024),
	}
	h.s = NewScheduler(SchedulerOptions{
		Index:     h.idx,
		Publisher: h.pub,
		Journal:   h.journal,
		Layout:    layout,
		Clock:     h.clk,
		Logger:    logx.Nop(),
		MaxSleep:  maxSleep,
		OnTransition: func(st State) {
			if h.s.LiveTimers() > 1 {
				h.overlap.Store(true)
			}
			h.states <- st
		},
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		if h.overlap.Load() {
			t.Errorf("more than one live timer observed")
		}
	})
}

func (h *harness) waitState(t *testing.T, match func(State) bool) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-h.states:
			if match(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("state not reached; last = %+v", h.s.State())
			return State{}
		}
	}
}

func idle(st State) bool { return !st.Armed }

func armedAt(at time.Time) func(State) bool {
	return func(st State) bool { return st.Armed && st.At.Equal(at) }
}
