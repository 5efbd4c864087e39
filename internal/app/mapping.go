package app

import (
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/delivery"
	"relaybot/internal/feed"
	"relaybot/internal/observability/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	"relaybot/pkg/logx"
)

const (
	defaultSweepSchedule = "@every 10m"
	defaultFeedBuffer    = 256
	defaultBusyTimeout   = 5 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	rc := cfg.Relay
	step, err := config.ParseDurationOrDefault("relay.backoff_step", rc.BackoffStep, relay.DefaultBackoffStep)
	if err != nil {
		return relay.Config{}, err
	}
	lookup, err := config.ParseDurationOrDefault("relay.lookup_timeout", rc.LookupTimeout, relay.DefaultLookupTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	ttl, err := config.ParseDurationField("relay.worker_idle_ttl", rc.WorkerIdleTTL)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		MailboxSize:   rc.MailboxSize,
		BackoffStep:   step,
		LookupTimeout: lookup,
		WorkerIdleTTL: ttl,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	dc := cfg.Delivery
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", dc.Timeout, delivery.DefaultTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Timeout:    timeout,
		UserAgent:  strings.TrimSpace(dc.UserAgent),
		RatePerSec: dc.RatePerSec,
	}, nil
}

func mapFeedConfig(cfg *config.Config, ua string) (feed.Config, int) {
	buf := cfg.Feed.Buffer
	if buf <= 0 {
		buf = defaultFeedBuffer
	}
	if ua == "" {
		ua = delivery.DefaultUserAgent
	}
	return feed.Config{
		Streams:   cfg.Feed.Streams,
		Token:     strings.TrimSpace(cfg.Feed.Token),
		UserAgent: ua,
	}, buf
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, string) {
	spec := strings.TrimSpace(cfg.Relay.SweepSchedule)
	if spec == "" {
		spec = defaultSweepSchedule
	}
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Relay.Timezone)}, spec
}

func mapMetricsConfig(cfg *config.Config) (metrics.Config, error) {
	mc := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second)
	if err != nil {
		return metrics.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 30*time.Second)
	if err != nil {
		return metrics.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.Config{}, err
	}
	return metrics.Config{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Path:          strings.TrimSpace(mc.Path),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
