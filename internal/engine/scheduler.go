package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"postwatch/internal/content"
	"postwatch/internal/schedule"
	"postwatch/internal/storage"
	logx "postwatch/pkg/logx"
)

// State is the scheduler state after a transition. Armed is false when idle.
type State struct {
	Armed bool
	At    time.Time
	Token uint64
}

type SchedulerOptions struct {
	Index     *schedule.Index
	Publisher Publisher
	// Journal may be nil.
	Journal storage.Store
	Layout  Layout
	Clock   clockwork.Clock
	Logger  logx.Logger
	// MaxSleep caps one timer so wall clock jumps are noticed (0 = no cap).
	MaxSleep time.Duration
	// OnTransition is called on the scheduler goroutine after every
	// transition.
	OnTransition func(State)
}

// Scheduler owns at most one timer, armed for the nearest scheduled instant.
// All state below box is touched by the Run goroutine only.
type Scheduler struct {
	index   *schedule.Index
	pub     Publisher
	journal storage.Store
	layout  Layout
	clock   clockwork.Clock
	log     logx.Logger

	maxSleep     time.Duration
	onTransition func(State)

	box *mailbox

	timer   clockwork.Timer
	tok     *token
	nextTok uint64

	live    atomic.Int32
	stateMu sync.Mutex
	state   State
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	idx := opts.Index
	if idx == nil {
		idx = schedule.NewIndex()
	}
	return &Scheduler{
		index:        idx,
		pub:          opts.Publisher,
		journal:      opts.Journal,
		layout:       opts.Layout,
		clock:        clock,
		log:          opts.Logger,
		maxSleep:     opts.MaxSleep,
		onTransition: opts.OnTransition,
		box:          newMailbox(),
	}
}

// Notify tells the scheduler the index changed. Safe from any goroutine;
// after shutdown the notification is dropped and reported.
func (s *Scheduler) Notify() {
	if err := s.box.post(message{kind: msgIndexChanged}); err != nil {
		s.log.Error("index change notification dropped", logx.Err(err))
	}
}

// LiveTimers is the number of armed timers (0 or 1).
func (s *Scheduler) LiveTimers() int { return int(s.live.Load()) }

// State returns the last reported state.
func (s *Scheduler) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Sweep publishes every due post found at startup and indexes the others.
// It must run before Run. Unreadable posts are reported and skipped.
func (s *Scheduler) Sweep(ctx context.Context, found []content.Scheduled) (published, indexed, skipped int) {
	now := s.clock.Now()
	for _, f := range found {
		key := s.layout.Key(f.Path)
		if f.Err != nil {
			s.log.Warn("scheduled post skipped", logx.String("path", key), logx.Err(f.Err))
			skipped++
			continue
		}
		if f.At.After(now) {
			s.index.Upsert(key, f.At)
			indexed++
			continue
		}
		s.publish(ctx, key, f.At, storage.TriggerStartup)
		published++
	}
	s.log.Info("startup sweep done",
		logx.Int("published", published),
		logx.Int("scheduled", indexed),
		logx.Int("skipped", skipped),
	)
	return published, indexed, skipped
}

// Run arms the first timer and serves the mailbox until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.box.close()
		s.cancelTimer()
	}()

	s.rearm(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.box.ready():
			for _, msg := range s.box.drain() {
				if ctx.Err() != nil {
					return nil
				}
				s.handle(ctx, msg)
			}
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgIndexChanged:
		s.cancelTimer()
		s.rearm(ctx)
	case msgTimerFired:
		if msg.tok != s.tok {
			s.log.Trace("stale timer ignored", logx.Time("at", msg.at))
			return
		}
		s.timer, s.tok = nil, nil
		s.live.Add(-1)
		s.publishDue(ctx, storage.TriggerSchedule)
		s.rearm(ctx)
	}
}

// cancelTimer releases the current timer, if any. When the timer already
// fired, its message is still queued and is ignored as stale.
func (s *Scheduler) cancelTimer() {
	if s.tok == nil {
		return
	}
	if s.tok.claim() {
		s.timer.Stop()
	}
	s.timer, s.tok = nil, nil
	s.live.Add(-1)
}

// rearm publishes anything already due, then arms one timer for the nearest
// remaining instant or goes idle.
func (s *Scheduler) rearm(ctx context.Context) {
	for {
		at, _, ok := s.index.Nearest()
		if !ok {
			s.transition(State{})
			return
		}
		now := s.clock.Now()
		if at.After(now) {
			s.arm(at, at.Sub(now))
			return
		}
		s.publishDue(ctx, storage.TriggerSchedule)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) arm(at time.Time, delay time.Duration) {
	if s.maxSleep > 0 && delay > s.maxSleep {
		delay = s.maxSleep
	}
	s.nextTok++
	tok := &token{id: s.nextTok}
	box := s.box
	s.timer = s.clock.AfterFunc(delay, func() {
		if !tok.claim() {
			return
		}
		// a closed mailbox means the scheduler stopped; nothing to do
		_ = box.post(message{kind: msgTimerFired, at: at, tok: tok})
	})
	s.tok = tok
	s.live.Add(1)
	s.log.Debug("timer armed", logx.Time("at", at), logx.Duration("sleep", delay))
	s.transition(State{Armed: true, At: at, Token: tok.id})
}

func (s *Scheduler) transition(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
	if s.onTransition != nil {
		s.onTransition(st)
	}
}

func (s *Scheduler) publishDue(ctx context.Context, trigger storage.Trigger) {
	for _, due := range s.index.TakeDue(s.clock.Now()) {
		for _, key := range due.Paths {
			s.publish(ctx, key, due.At, trigger)
		}
	}
}

// publish runs one publication. Failures are reported; the entry is not
// re-indexed.
func (s *Scheduler) publish(ctx context.Context, key string, due time.Time, trigger storage.Trigger) {
	rec := storage.Publication{Source: key, Trigger: trigger, Due: due}
	dest, err := s.pub.PublishPost(s.layout.Abs(key))
	rec.At = s.clock.Now()
	// a rescan or classify racing the publication may have indexed it again
	if s.index.Remove(key) {
		s.log.Debug("entry re-added during publication dropped", logx.String("path", key))
	}
	if err != nil {
		rec.Error = err.Error()
		s.log.Error("publish failed", logx.String("path", key), logx.Time("due", due), logx.Err(err))
	} else {
		rec.Dest = s.layout.Key(dest)
		s.log.Info("scheduled post published",
			logx.String("path", key),
			logx.String("dest", rec.Dest),
			logx.String("trigger", string(trigger)),
		)
	}
	if s.journal == nil {
		return
	}
	if jerr := s.journal.AppendPublication(ctx, rec); jerr != nil {
		s.log.Warn("journal append failed", logx.String("path", key), logx.Err(jerr))
	}
}
