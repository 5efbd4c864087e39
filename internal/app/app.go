package app

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/delivery"
	"relaybot/internal/feed"
	"relaybot/internal/observability/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/watchdog"
	logx "relaybot/pkg/logx"
)

const sweepJob = "relay.sweep"

var errDispatcherStopped = errors.New("dispatcher stopped")

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	key     crypto.PrivateKey
	sender  *delivery.Client
	metrics *metrics.Collector
	httpSvc *metrics.Service
	beat    *watchdog.Notifier
	sched   *scheduler.Service

	relayCfg relay.Config
	feedCfg  feed.Config
	feedBuf  int
	sweep    string

	// set by Start
	feedSup  *supervisor.Supervisor
	relaySup *supervisor.Supervisor
	feed     *feed.Source
	feedCh   chan string
	disp     *relay.Dispatcher
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	relayCfg, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	mcfg, err := mapMetricsConfig(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	feedCfg, feedBuf := mapFeedConfig(cfg, dcfg.UserAgent)
	schedCfg, sweep := mapSchedulerConfig(cfg)

	key, err := delivery.LoadPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(scfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", scfg.Driver))

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		key:      key,
		sender:   delivery.New(dcfg, log.With(logx.String("comp", "delivery"))),
		metrics:  metrics.NewCollector(),
		beat:     watchdog.New(log.With(logx.String("comp", "watchdog"))),
		sched:    scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler"))),
		relayCfg: relayCfg,
		feedCfg:  feedCfg,
		feedBuf:  feedBuf,
		sweep:    sweep,
	}
	a.httpSvc = metrics.NewService(mcfg, a.metrics.Handler(), a.health, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// health backs /healthz: the relay is unhealthy once its dispatcher is gone.
func (a *App) health() error {
	if a.disp == nil {
		return errDispatcherStopped
	}
	select {
	case <-a.disp.Done():
		return errDispatcherStopped
	default:
		return nil
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()

	// A crashed worker or stream must not take its siblings down, so they get
	// their own non-cancelling supervisors. The dispatcher itself runs under
	// the app supervisor: without it nothing is relayed, so its crash stops
	// the process.
	a.relaySup = supervisor.New(a.sup.Context(),
		supervisor.WithLogger(a.log.With(logx.String("comp", "relay"))),
		supervisor.WithCancelOnError(false),
	)
	a.feedSup = supervisor.New(a.sup.Context(),
		supervisor.WithLogger(a.log.With(logx.String("comp", "feed"))),
		supervisor.WithCancelOnError(false),
	)

	a.feedCh = make(chan string, a.feedBuf)
	a.disp = relay.Spawn(a.sup, a.relayCfg, relay.Deps{
		Hostname:  strings.TrimSpace(cfg.Hostname),
		Workers:   a.relaySup,
		Followers: a.store,
		Sender:    a.sender,
		Key:       a.key,
		Metrics:   a.metrics,
		Heartbeat: a.beat,
		Log:       a.log.With(logx.String("comp", "relay")),
	}, a.feedCh)

	a.feed = feed.New(a.feedCfg, a.feedCh, a.log.With(logx.String("comp", "feed")))
	a.feed.Start(a.feedSup)
	a.registerGauges()

	if err := a.sched.Add(sweepJob, a.sweep, a.disp.Sweep); err != nil {
		return err
	}
	a.sched.Start()
	if next, ok := a.sched.Next(sweepJob); ok {
		a.log.Debug("worker sweep scheduled", logx.String("spec", a.sweep), logx.Time("next", next))
	}

	a.httpSvc.Start(a.sup.Context())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.beat.Ready()
	if iv := a.beat.Interval(); iv > 0 {
		a.log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
	}
	a.log.Info("app started",
		logx.String("hostname", cfg.Hostname),
		logx.Int("streams", len(a.feedCfg.Streams)),
	)
	return nil
}

// registerGauges exports counters owned by other components.
func (a *App) registerGauges() {
	a.metrics.CounterFunc("relay_feed_connects_total", "Stream connections opened.", func() float64 {
		return float64(a.feed.Stats().Connects)
	})
	a.metrics.CounterFunc("relay_feed_events_total", "Stream events received.", func() float64 {
		return float64(a.feed.Stats().Events)
	})
	a.metrics.CounterFunc("relay_parse_errors_total", "Feed payloads that failed to decode.", func() float64 {
		return float64(a.disp.Stats().ParseErrors)
	})
	a.metrics.CounterFunc("relay_worker_respawns_total", "Delivery workers restarted after exiting.", func() float64 {
		return float64(a.disp.Stats().Respawns)
	})
	a.metrics.CounterFunc("relay_goroutine_panics_total", "Delivery workers that panicked.", func() float64 {
		return float64(a.relaySup.Counters().Panics)
	})
	a.metrics.CounterFunc("relay_watchdog_beats_total", "Watchdog notifications sent to systemd.", func() float64 {
		return float64(a.beat.Beats())
	})
}

// applyConfig applies what can change live (logging, metrics) and warns
// about the rest.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLoggingConfig(next))

	mcfg, err := mapMetricsConfig(next)
	if err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.httpSvc.Reconfigure(ctx, mcfg)
	}

	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changes require a restart to take effect", logx.Strings("sections", restart))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.beat.Stopping()

	// Cancel first so every loop starts unwinding at once.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("feed", 3*time.Second, func(c context.Context) error {
		err := a.feedSup.Wait(c)
		if c.Err() != nil {
			return c.Err()
		}
		// No stream can send any more; closing lets the dispatcher drain out.
		close(a.feedCh)
		return err
	})
	step("relay", 3*time.Second, func(c context.Context) error {
		select {
		case <-a.disp.Done():
		case <-c.Done():
			return c.Err()
		}
		return a.relaySup.Wait(c)
	})
	step("metrics", 1*time.Second, func(c context.Context) error { a.httpSvc.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	st := a.disp.Stats()
	a.log.Info("stopped",
		logx.Uint64("relayed", st.Relayed),
		logx.Uint64("no_relay", st.NoRelay),
		logx.Uint64("skipped", st.Skipped),
		logx.Uint64("mailbox_full", st.MailboxFull),
	)
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
