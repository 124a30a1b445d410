// Package systemd speaks the sd_notify protocol for Type=notify units.
// Outside systemd (no NOTIFY_SOCKET) every call is a silent no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "postwatch/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	// replaced in tests
	send     func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func NewNotifier(enabled bool, log logx.Logger) *Notifier {
	return &Notifier{
		enabled: enabled,
		log:     log,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.send(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

// WatchdogInterval is half the unit's WatchdogSec, or 0 if the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := n.watchdog()
	if err != nil {
		n.log.Warn("sd_watchdog_enabled failed", logx.Err(err))
		return 0
	}
	return d / 2
}

// RunWatchdog pings the watchdog until ctx is done. It returns immediately
// when the watchdog is not enabled.
func (n *Notifier) RunWatchdog(ctx context.Context) error {
	every := n.WatchdogInterval()
	if every <= 0 {
		return nil
	}
	n.log.Debug("systemd watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
