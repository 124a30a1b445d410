package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "postwatch/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestNotifierDisabled(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(false, logx.Nop())
	n.send = rec.send
	n.Ready()
	n.Stopping()
	require.Zero(t, n.WatchdogInterval())
	require.Empty(t, rec.states)

	// nil receiver is tolerated
	var none *Notifier
	none.Ready()
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(true, logx.Nop())
	n.send = rec.send
	n.Ready()
	n.Status("2 scheduled")
	n.Stopping()
	require.Equal(t, []string{"READY=1", "STATUS=2 scheduled", "STOPPING=1"}, rec.states)
}

func TestRunWatchdog(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(true, logx.Nop())
	n.send = rec.send
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }
	require.Equal(t, 10*time.Millisecond, n.WatchdogInterval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(ctx) }()
	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunWatchdogOff(t *testing.T) {
	n := NewNotifier(true, logx.Nop())
	n.watchdog = func() (time.Duration, error) { return 0, errors.New("bad WATCHDOG_USEC") }
	require.NoError(t, n.RunWatchdog(context.Background()))
}
