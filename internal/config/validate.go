package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/task/scheduler"
	"relaybot/pkg/logx"
)

// Validate rejects configs the relay cannot start (or hot-reload) with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(validateHostname(cfg.Hostname))
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		add(errors.New("private_key is required"))
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "":
		add(errors.New("storage.driver is required"))
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required when storage.driver=%s", d))
		}
	case "memory":
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	add(durationField("storage.busy_timeout", cfg.Storage.BusyTimeout))

	if cfg.Relay.MailboxSize < 0 {
		add(errors.New("relay.mailbox_size must be >= 0"))
	}
	add(durationField("relay.backoff_step", cfg.Relay.BackoffStep))
	add(durationField("relay.lookup_timeout", cfg.Relay.LookupTimeout))
	add(durationField("relay.worker_idle_ttl", cfg.Relay.WorkerIdleTTL))
	if spec := strings.TrimSpace(cfg.Relay.SweepSchedule); spec != "" {
		if _, err := scheduler.ParseSpec(spec); err != nil {
			add(fmt.Errorf("relay.sweep_schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Relay.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("relay.timezone: invalid %q: %w", tz, err))
		}
	}

	add(durationField("delivery.timeout", cfg.Delivery.Timeout))
	if cfg.Delivery.RatePerSec < 0 {
		add(errors.New("delivery.rate_per_sec must be >= 0"))
	}

	if len(cfg.Feed.Streams) == 0 {
		add(errors.New("feed.streams needs at least one endpoint"))
	}
	for i, s := range cfg.Feed.Streams {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(fmt.Errorf("feed.streams[%d]: want an http(s) url, got %q", i, s))
		}
	}
	if cfg.Feed.Buffer < 0 {
		add(errors.New("feed.buffer must be >= 0"))
	}

	add(durationField("metrics.read_timeout", cfg.Metrics.ReadTimeout))
	add(durationField("metrics.write_timeout", cfg.Metrics.WriteTimeout))
	add(durationField("metrics.idle_timeout", cfg.Metrics.IdleTimeout))

	return errors.Join(errs...)
}

func validateHostname(h string) error {
	h = strings.TrimSpace(h)
	switch {
	case h == "":
		return errors.New("hostname is required")
	case strings.Contains(h, "://"), strings.ContainsAny(h, "/ ?#@"):
		return fmt.Errorf("hostname must be a bare host (e.g. relay.example), got %q", h)
	}
	return nil
}

func durationField(path, raw string) error {
	_, err := ParseDurationField(path, raw)
	return err
}
