package relay

import (
	"context"
	"sync/atomic"

	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

// Dispatcher turns feed items into per-inbox delivery jobs.
//
// Run is single-goroutine: the worker registry is only touched from it,
// sweeps included.
type Dispatcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	sup  *supervisor.Supervisor

	workers map[string]*worker
	sweepCh chan struct{}
	done    chan struct{}

	relayed     atomic.Uint64
	noRelay     atomic.Uint64
	skipped     atomic.Uint64
	parseErrors atomic.Uint64
	lookupErrs  atomic.Uint64
	mailboxFull atomic.Uint64
	respawns    atomic.Uint64
	nworkers    atomic.Int64
}

// New builds a dispatcher whose workers run under deps.Workers, or under sup
// when that is nil.
func New(sup *supervisor.Supervisor, cfg Config, deps Deps) *Dispatcher {
	deps = deps.withDefaults()
	if deps.Workers != nil {
		sup = deps.Workers
	}
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		log:     deps.Log,
		sup:     sup,
		workers: map[string]*worker{},
		sweepCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run consumes feed until it is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, feed <-chan string) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.sweepCh:
			d.sweep()
		case data, ok := <-feed:
			if !ok {
				d.log.Info("feed closed; dispatcher stopping")
				return nil
			}
			d.process(ctx, data)
		}
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Sweep asks the dispatcher to evict dead and idle workers. It never blocks;
// a request made while another is pending is merged into it.
func (d *Dispatcher) Sweep() {
	select {
	case d.sweepCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Relayed:     d.relayed.Load(),
		NoRelay:     d.noRelay.Load(),
		Skipped:     d.skipped.Load(),
		ParseErrors: d.parseErrors.Load(),
		LookupErrs:  d.lookupErrs.Load(),
		MailboxFull: d.mailboxFull.Load(),
		Respawns:    d.respawns.Load(),
		Workers:     d.nworkers.Load(),
	}
}

func (d *Dispatcher) process(ctx context.Context, data string) {
	t1 := d.deps.Clock.Now()
	post, err := ParsePost([]byte(data))
	if err != nil {
		d.parseErrors.Add(1)
		d.log.Error("parse error", logx.Err(err))
		d.log.Trace("data", logx.String("data", data))
		return
	}
	if post.Reshare() {
		d.skipped.Add(1)
		d.deps.Metrics.PostProcessed(OutcomeSkip, d.deps.Clock.Since(t1))
		return
	}

	seenIdentities := map[Identity]struct{}{}
	seenInboxes := map[string]struct{}{}
	for id := range post.Targets() {
		if _, ok := seenIdentities[id]; ok {
			continue
		}
		d.fanout(ctx, post, id, seenInboxes)
		seenIdentities[id] = struct{}{}
	}

	outcome := OutcomeRelay
	if len(seenInboxes) == 0 {
		outcome = OutcomeNoRelay
		d.noRelay.Add(1)
	} else {
		d.relayed.Add(1)
	}
	d.deps.Metrics.PostProcessed(outcome, d.deps.Clock.Since(t1))
}

// fanout submits one job per not-yet-seen follower inbox of id.
func (d *Dispatcher) fanout(ctx context.Context, post Post, id Identity, seenInboxes map[string]struct{}) {
	actorURI := id.URI(d.deps.Hostname)
	body, err := NewAnnounce(actorURI, post).Marshal()
	if err != nil {
		d.log.Error("announce encode failed", logx.String("actor", actorURI), logx.Err(err))
		return
	}

	lctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	inboxes, err := d.deps.Followers.FollowingInboxes(lctx, actorURI)
	cancel()
	if err != nil {
		d.lookupErrs.Add(1)
		d.deps.Metrics.LookupFailed()
		d.log.Error("follower lookup failed", logx.String("actor", actorURI), logx.Err(err))
		return
	}

	keyID := id.KeyID(d.deps.Hostname)
	postURL := post.Link()
	now := d.deps.Clock.Now()
	for _, inbox := range inboxes {
		if _, ok := seenInboxes[inbox]; ok {
			continue
		}
		seenInboxes[inbox] = struct{}{}

		w := d.workerFor(inbox)
		w.touch(now)
		job := Job{
			Inbox:    inbox,
			PostURL:  postURL,
			ActorURI: actorURI,
			Body:     body,
			KeyID:    keyID,
			Key:      d.deps.Key,
		}
		if !w.submit(job) {
			d.mailboxFull.Add(1)
			d.deps.Metrics.JobDropped(DropMailboxFull)
			d.log.Debug("mailbox full; dropping job", logx.String("inbox", inbox), logx.String("post", postURL), logx.Int("queue_cap", cap(w.mailbox)))
		}
	}
}

// workerFor returns the live worker for inbox, spawning (or respawning) it.
func (d *Dispatcher) workerFor(inbox string) *worker {
	if w, ok := d.workers[inbox]; ok {
		if w.alive() {
			return w
		}
		d.respawns.Add(1)
		d.log.Warn("worker exited; respawning", logx.String("inbox", inbox), logx.Int("pending_lost", len(w.mailbox)))
	}
	w := d.spawnWorker(inbox)
	d.workers[inbox] = w
	d.setWorkerCount()
	return w
}

func (d *Dispatcher) spawnWorker(inbox string) *worker {
	w := newWorker(inbox, d.cfg, d.deps)
	ctx, cancel := context.WithCancel(d.sup.Context())
	w.cancel = cancel
	d.sup.GoContext(ctx, "relay.worker", w.run)
	return w
}

func (d *Dispatcher) sweep() {
	now := d.deps.Clock.Now()
	var dead, idle int
	for inbox, w := range d.workers {
		if !w.alive() {
			delete(d.workers, inbox)
			dead++
			continue
		}
		if d.cfg.WorkerIdleTTL > 0 && w.idle() && now.Sub(w.lastActiveAt()) > d.cfg.WorkerIdleTTL {
			w.stop()
			delete(d.workers, inbox)
			idle++
		}
	}
	d.setWorkerCount()
	if dead > 0 || idle > 0 {
		d.log.Info("worker sweep", logx.Int("dead", dead), logx.Int("idle", idle), logx.Int("workers", len(d.workers)))
	} else {
		d.log.Debug("worker sweep", logx.Int("workers", len(d.workers)))
	}
}

func (d *Dispatcher) setWorkerCount() {
	d.nworkers.Store(int64(len(d.workers)))
	d.deps.Metrics.Workers(len(d.workers))
}
