package config

// Config is the relaybot configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Hostname is the relay's public host; actor ids are https://<hostname>/...
	Hostname string `json:"hostname"`
	// PrivateKey is the path to the PEM-encoded RSA signing key (do not log contents).
	PrivateKey string `json:"private_key"`

	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Relay    RelayConfig    `json:"relay"`
	Delivery DeliveryConfig `json:"delivery"`
	Feed     FeedConfig     `json:"feed"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the follower store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RelayConfig tunes fanout and delivery workers.
//
// Defaults (when fields are omitted/zero):
//   - mailbox_size: 1024
//   - backoff_step: "10s"
//   - lookup_timeout: "10s"
//   - worker_idle_ttl: "0s" (idle workers are kept)
//   - sweep_schedule: "@every 10m"
type RelayConfig struct {
	MailboxSize   int    `json:"mailbox_size,omitempty"`
	BackoffStep   string `json:"backoff_step,omitempty"`
	LookupTimeout string `json:"lookup_timeout,omitempty"`
	WorkerIdleTTL string `json:"worker_idle_ttl,omitempty"`
	// SweepSchedule is a cron spec (5 or 6 fields, or a descriptor like "@every 5m").
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

type DeliveryConfig struct {
	Timeout   string  `json:"timeout,omitempty"` // default "10s"
	UserAgent string  `json:"user_agent,omitempty"`
	// RatePerSec caps outgoing POSTs across all inboxes; 0 disables the cap.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// FeedConfig lists the streaming endpoints posts are read from.
type FeedConfig struct {
	Streams []string `json:"streams"`
	Token   string   `json:"token,omitempty"` // optional bearer token (do not log)
	// Buffer is the capacity of the channel between streams and the dispatcher.
	Buffer int `json:"buffer,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path          string `json:"path,omitempty"` // default: "/metrics"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
