// Package watchdog reports liveness to systemd (sd_notify). Outside systemd
// every call is a no-op.
package watchdog

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/pkg/logx"
)

// DefaultMinGap bounds how often Beat reaches systemd; deliveries can
// succeed thousands of times a second.
const DefaultMinGap = time.Second

type Notifier struct {
	notify func(state string) (bool, error)
	now    func() time.Time
	minGap time.Duration
	log    logx.Logger

	last  atomic.Int64 // unix nano of the last WATCHDOG=1
	beats atomic.Uint64
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		now:    time.Now,
		minGap: DefaultMinGap,
		log:    log,
	}
}

// Interval is the watchdog timeout systemd expects us to beat within, or 0
// when the watchdog is not enabled for this process.
func (n *Notifier) Interval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog settings unreadable", logx.Err(err))
		return 0
	}
	return d
}

// Beat sends WATCHDOG=1, at most once per minGap.
func (n *Notifier) Beat() {
	now := n.now().UnixNano()
	last := n.last.Load()
	if last != 0 && now-last < int64(n.minGap) {
		return
	}
	if !n.last.CompareAndSwap(last, now) {
		return
	}
	ok, err := n.notify(daemon.SdNotifyWatchdog)
	if err != nil {
		n.log.Debug("watchdog notify failed", logx.Err(err))
		return
	}
	if ok {
		n.beats.Add(1)
	}
}

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Beats counts WATCHDOG=1 notifications systemd accepted.
func (n *Notifier) Beats() uint64 { return n.beats.Load() }

func (n *Notifier) send(state string) {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
