package config

import (
	"slices"
	"sort"
	"strings"

	"relaybot/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"hostname":    true,
	"private_key": true,
	"storage":     true,
	"relay":       true,
	"delivery":    true,
	"feed":        true,
}

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens, key paths) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	trim := strings.TrimSpace

	if trim(oldCfg.Hostname) != trim(newCfg.Hostname) {
		changed = append(changed, "hostname")
		attrs = append(attrs, logx.String("hostname", trim(newCfg.Hostname)))
	}
	if trim(oldCfg.PrivateKey) != trim(newCfg.PrivateKey) {
		changed = append(changed, "private_key")
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !strings.EqualFold(trim(oldCfg.Storage.Driver), trim(newCfg.Storage.Driver)) ||
		trim(oldCfg.Storage.Path) != trim(newCfg.Storage.Path) ||
		trim(oldCfg.Storage.BusyTimeout) != trim(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", trim(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Int("relay.mailbox_size", newCfg.Relay.MailboxSize),
			logx.String("relay.backoff_step", newCfg.Relay.BackoffStep),
			logx.String("relay.worker_idle_ttl", newCfg.Relay.WorkerIdleTTL),
			logx.String("relay.sweep_schedule", newCfg.Relay.SweepSchedule),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.timeout", newCfg.Delivery.Timeout),
			logx.Float64("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}

	if !slices.Equal(oldCfg.Feed.Streams, newCfg.Feed.Streams) ||
		oldCfg.Feed.Buffer != newCfg.Feed.Buffer ||
		oldCfg.Feed.Token != newCfg.Feed.Token {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.Int("feed.streams", len(newCfg.Feed.Streams)),
			logx.Bool("feed.token_set", trim(newCfg.Feed.Token) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", trim(newCfg.Metrics.Token) != ""),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart filters sections down to those a live reload cannot apply.
func NeedsRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
