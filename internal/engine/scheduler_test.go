package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"postwatch/internal/content"
	"postwatch/internal/storage"
)

func TestSchedulerPublishesAtInstant(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)
	h.waitState(t, idle)

	at := t0.Add(10 * time.Minute)
	h.idx.Upsert(sched("a.md"), at)
	h.s.Notify()
	h.waitState(t, armedAt(at))

	h.clk.Advance(10*time.Minute - time.Second)
	h.pub.expectNone(t)

	h.clk.Advance(time.Second)
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
	require.Equal(t, 0, h.idx.Len())
	require.Equal(t, 0, h.s.LiveTimers())

	j := h.journal.all()
	require.Len(t, j, 1)
	require.Equal(t, storage.TriggerSchedule, j[0].Trigger)
	require.Equal(t, "content/posts/a.md", j[0].Dest)
	require.True(t, j[0].Due.Equal(at))
}

func TestSchedulerReschedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)

	h.idx.Upsert(sched("a.md"), t0.Add(10*time.Minute))
	h.s.Notify()
	h.waitState(t, armedAt(t0.Add(10*time.Minute)))

	later := t0.Add(20 * time.Minute)
	h.idx.Upsert(sched("a.md"), later)
	h.s.Notify()
	h.waitState(t, armedAt(later))
	require.Equal(t, 1, h.s.LiveTimers())

	// the first timer was cancelled
	h.clk.Advance(10 * time.Minute)
	h.pub.expectNone(t)

	h.clk.Advance(10 * time.Minute)
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.pub.expectNone(t)
	require.Len(t, h.pub.Calls(), 1)
}

func TestSchedulerUnschedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)

	h.idx.Upsert(sched("a.md"), t0.Add(10*time.Minute))
	h.s.Notify()
	h.waitState(t, armedAt(t0.Add(10*time.Minute)))

	h.idx.Remove(sched("a.md"))
	h.s.Notify()
	h.waitState(t, idle)
	require.Equal(t, 0, h.s.LiveTimers())

	h.clk.Advance(time.Hour)
	h.pub.expectNone(t)
}

func TestSchedulerStartupSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	found := []content.Scheduled{
		{Path: "/site/content/drafts/scheduled/past.md", At: t0.Add(-time.Hour)},
		{Path: "/site/content/drafts/scheduled/now.md", At: t0},
		{Path: "/site/content/drafts/scheduled/future.md", At: t0.Add(time.Hour)},
		{Path: "/site/content/drafts/scheduled/broken.md", Err: content.ErrNoDate},
	}
	published, indexed, skipped := h.s.Sweep(context.Background(), found)
	require.Equal(t, 2, published)
	require.Equal(t, 1, indexed)
	require.Equal(t, 1, skipped)

	want := []string{"/site/content/drafts/scheduled/past.md", "/site/content/drafts/scheduled/now.md"}
	if diff := cmp.Diff(want, h.pub.Calls()); diff != "" {
		t.Fatalf("published mismatch (-want +got):\n%s", diff)
	}
	for _, e := range h.journal.all() {
		require.Equal(t, storage.TriggerStartup, e.Trigger)
	}
	require.Equal(t, []string{sched("future.md")}, h.idx.Paths())

	h.start(t)
	h.waitState(t, armedAt(t0.Add(time.Hour)))
}

func TestSchedulerSameInstantAndFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.pub.fail["/site/content/drafts/scheduled/a.md"] = errBoom
	h.start(t)

	at := t0.Add(5 * time.Minute)
	h.idx.Upsert(sched("a.md"), at)
	h.idx.Upsert(sched("b.md"), at)
	h.s.Notify()
	h.waitState(t, armedAt(at))

	h.clk.Advance(5 * time.Minute)
	got := []string{h.pub.wait(t), h.pub.wait(t)}
	require.ElementsMatch(t, []string{
		"/site/content/drafts/scheduled/a.md",
		"/site/content/drafts/scheduled/b.md",
	}, got)
	h.waitState(t, idle)
	// failed entries are not retried
	require.Equal(t, 0, h.idx.Len())

	j := h.journal.all()
	require.Len(t, j, 2)
	require.False(t, j[0].OK())
	require.Contains(t, j[0].Error, "boom")
	require.True(t, j[1].OK())
}

func TestSchedulerPublishesImmediatelyWhenAlreadyDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)
	h.waitState(t, idle)

	h.idx.Upsert(sched("late.md"), t0.Add(-time.Minute))
	h.idx.Upsert(sched("next.md"), t0.Add(time.Minute))
	h.s.Notify()

	require.Equal(t, "/site/content/drafts/scheduled/late.md", h.pub.wait(t))
	h.waitState(t, armedAt(t0.Add(time.Minute)))
}

func TestSchedulerMaxSleepCap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Minute)
	h.start(t)

	at := t0.Add(5 * time.Minute)
	h.idx.Upsert(sched("a.md"), at)
	h.s.Notify()

	// one capped timer per minute, each re-armed for the same instant
	for i := 1; i <= 5; i++ {
		id := uint64(i)
		h.waitState(t, func(st State) bool { return st.Armed && st.Token == id && st.At.Equal(at) })
		h.clk.Advance(time.Minute)
	}
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
}

func TestSchedulerIgnoresStaleFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	at := t0.Add(time.Minute)
	h.idx.Upsert(sched("a.md"), at)
	h.s.rearm(ctx)
	stale := h.s.tok
	require.Equal(t, 1, h.s.LiveTimers())

	h.s.cancelTimer()
	require.Equal(t, 0, h.s.LiveTimers())
	require.False(t, stale.claim(), "cancel must consume the token")

	// a fire message that raced the cancel
	h.clk.Advance(time.Minute)
	h.s.handle(ctx, message{kind: msgTimerFired, at: at, tok: stale})
	require.Empty(t, h.pub.Calls())
	require.Equal(t, 1, h.idx.Len())
}

func TestSchedulerFireBeatsCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	at := t0.Add(time.Minute)
	h.idx.Upsert(sched("a.md"), at)
	h.s.rearm(ctx)
	fired := h.s.tok
	// the timer callback won the claim; its message is still in flight
	require.True(t, fired.claim())

	h.s.cancelTimer()
	require.Equal(t, 0, h.s.LiveTimers())
	h.s.handle(ctx, message{kind: msgTimerFired, at: at, tok: fired})
	require.Empty(t, h.pub.Calls())
}

func TestSchedulerSingleTimerUnderChurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(g)))
			for i := 0; i < 100; i++ {
				key := sched(fmt.Sprintf("p%d.md", rng.Intn(10)))
				if rng.Intn(4) == 0 {
					h.idx.Remove(key)
				} else {
					h.idx.Upsert(key, t0.Add(time.Duration(1+rng.Intn(60))*time.Minute))
				}
				h.s.Notify()
			}
		}(g)
	}
	wg.Wait()
	h.s.Notify()

	require.Eventually(t, func() bool {
		st := h.s.State()
		at, _, ok := h.idx.Nearest()
		if !ok {
			return !st.Armed
		}
		return st.Armed && st.At.Equal(at)
	}, 5*time.Second, 10*time.Millisecond)
	require.LessOrEqual(t, h.s.LiveTimers(), 1)
	require.Empty(t, h.pub.Calls())
}

func TestNotifyAfterShutdownIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()
	h.waitState(t, idle)
	cancel()
	require.NoError(t, <-done)

	h.s.Notify() // logged, must not panic or block
	require.True(t, errors.Is(h.s.box.post(message{kind: msgIndexChanged}), ErrMailboxClosed))
}

func TestJournalFailureDoesNotStopPublishing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.journal.err = errBoom
	h.start(t)

	h.idx.Upsert(sched("a.md"), t0.Add(-time.Second))
	h.s.Notify()
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
}

func TestSchedulerMovedEarlierIntoThePast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)

	h.idx.Upsert(sched("a.md"), t0.Add(10*time.Second))
	h.s.Notify()
	h.waitState(t, armedAt(t0.Add(10*time.Second)))

	// at +2s the post is moved to +1s, which has already passed
	h.clk.Advance(2 * time.Second)
	h.idx.Upsert(sched("a.md"), t0.Add(time.Second))
	h.s.Notify()
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
	require.Equal(t, 0, h.s.LiveTimers())

	// the cancelled timer for the old instant stays silent
	h.clk.Advance(10 * time.Second)
	h.pub.expectNone(t)
	require.Len(t, h.pub.Calls(), 1)
}

func TestSchedulerMovedEarlier(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.start(t)

	h.idx.Upsert(sched("a.md"), t0.Add(10*time.Second))
	h.s.Notify()
	h.waitState(t, armedAt(t0.Add(10*time.Second)))

	h.clk.Advance(2 * time.Second)
	earlier := t0.Add(3 * time.Second)
	h.idx.Upsert(sched("a.md"), earlier)
	h.s.Notify()
	h.waitState(t, armedAt(earlier))
	require.Equal(t, 1, h.s.LiveTimers())

	h.clk.Advance(time.Second)
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
	h.clk.Advance(10 * time.Second)
	h.pub.expectNone(t)
}

func TestSchedulerDropsEntryReaddedDuringPublication(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	at := t0.Add(time.Minute)
	h.pub.during = func(string) {
		// a rescan that read the file just before it was moved
		h.idx.Upsert(sched("a.md"), at)
		h.s.Notify()
	}
	h.start(t)

	h.idx.Upsert(sched("a.md"), at)
	h.s.Notify()
	h.waitState(t, armedAt(at))

	h.clk.Advance(time.Minute)
	require.Equal(t, "/site/content/drafts/scheduled/a.md", h.pub.wait(t))
	h.waitState(t, idle)
	h.pub.expectNone(t)
	require.Equal(t, 0, h.idx.Len())
	require.Len(t, h.journal.all(), 1)
}
