package relay

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"relaybot/pkg/logx"
)

// worker delivers jobs to a single inbox, one at a time, in mailbox order.
//
// errors and lastAttempt are owned by the run goroutine. lastActive and
// pending are read by the dispatcher's sweep.
type worker struct {
	inbox   string
	mailbox chan Job

	sender    Sender
	metrics   Metrics
	heartbeat Heartbeat
	clock     clock.Clock
	log       logx.Logger
	step      time.Duration

	errors      uint32
	lastAttempt time.Time

	lastActive atomic.Int64 // unix nano
	// pending counts jobs accepted by submit and not yet finished, the one
	// being delivered included.
	pending atomic.Int64
	cancel     context.CancelFunc
	done       chan struct{}
}

func newWorker(inbox string, cfg Config, deps Deps) *worker {
	w := &worker{
		inbox:     inbox,
		mailbox:   make(chan Job, cfg.MailboxSize),
		sender:    deps.Sender,
		metrics:   deps.Metrics,
		heartbeat: deps.Heartbeat,
		clock:     deps.Clock,
		log:       deps.Log.With(logx.String("inbox", inbox)),
		step:      cfg.BackoffStep,
		done:      make(chan struct{}),
	}
	w.touch(deps.Clock.Now())
	return w
}

// submit never blocks; it reports false when the mailbox is full.
func (w *worker) submit(j Job) bool {
	w.pending.Add(1)
	select {
	case w.mailbox <- j:
		return true
	default:
		w.pending.Add(-1)
		return false
	}
}

// idle reports whether the worker has nothing queued or in flight.
func (w *worker) idle() bool { return w.pending.Load() == 0 }

func (w *worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *worker) stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *worker) touch(t time.Time) { w.lastActive.Store(t.UnixNano()) }

func (w *worker) lastActiveAt() time.Time { return time.Unix(0, w.lastActive.Load()) }

func (w *worker) run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-w.mailbox:
			if !ok {
				// Only the dispatcher owns the mailbox and it never closes it.
				panic("relay: mailbox closed for " + w.inbox)
			}
			w.deliver(ctx, j)
			w.pending.Add(-1)
		}
	}
}

func (w *worker) deliver(ctx context.Context, j Job) {
	now := w.clock.Now()
	if w.coolingDown(now) {
		w.log.Trace("skip", logx.String("post", j.PostURL), logx.String("actor", j.ActorURI), logx.Uint32("errors", w.errors))
		w.metrics.JobDropped(DropBackoff)
		return
	}

	w.log.Debug("relay", logx.String("post", j.PostURL), logx.String("actor", j.ActorURI))
	w.lastAttempt = now
	err := w.sender.Send(ctx, j.Inbox, j.KeyID, j.Key, j.Body)
	w.touch(w.clock.Now())
	if err != nil {
		if ctx.Err() != nil {
			w.log.Debug("relay cancelled", logx.String("post", j.PostURL), logx.Err(err))
			return
		}
		if w.errors < math.MaxUint32 {
			w.errors++
		}
		w.log.Error("relay send failed", logx.String("post", j.PostURL), logx.Uint32("errors", w.errors), logx.Err(err))
		w.metrics.DeliveryFinished(false)
		return
	}
	w.errors = 0
	w.metrics.DeliveryFinished(true)
	w.heartbeat.Beat()
}

// coolingDown reports whether the inbox is still inside its failure backoff:
// after n consecutive failures, nothing is attempted for n*step after the last try.
func (w *worker) coolingDown(now time.Time) bool {
	if w.errors == 0 || w.lastAttempt.IsZero() {
		return false
	}
	return now.Sub(w.lastAttempt) < cooldown(w.step, w.errors)
}

func cooldown(step time.Duration, n uint32) time.Duration {
	if step <= 0 || n == 0 {
		return 0
	}
	if int64(n) > math.MaxInt64/int64(step) {
		return math.MaxInt64
	}
	return step * time.Duration(n)
}
