package relay

import (
	"context"
	"crypto"
	"time"

	"github.com/benbjohnson/clock"

	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

const (
	DefaultMailboxSize   = 1024
	DefaultBackoffStep   = 10 * time.Second
	DefaultLookupTimeout = 10 * time.Second
)

// FollowerLookup resolves a relay actor to the inboxes following it.
type FollowerLookup interface {
	FollowingInboxes(ctx context.Context, actorURI string) ([]string, error)
}

// Sender performs one signed POST of body to inbox.
type Sender interface {
	Send(ctx context.Context, inbox, keyID string, key crypto.PrivateKey, body []byte) error
}

// Heartbeat is fired after every successful delivery.
type Heartbeat interface {
	Beat()
}

type Outcome string

const (
	OutcomeSkip    Outcome = "skip"
	OutcomeNoRelay Outcome = "no_relay"
	OutcomeRelay   Outcome = "relay"
)

type DropReason string

const (
	DropBackoff     DropReason = "backoff"
	DropMailboxFull DropReason = "mailbox_full"
)

// Metrics receives pipeline measurements. Implementations must be safe for
// concurrent use: workers report from their own goroutines.
type Metrics interface {
	PostProcessed(outcome Outcome, took time.Duration)
	JobDropped(reason DropReason)
	LookupFailed()
	DeliveryFinished(ok bool)
	Workers(n int)
}

// Config tunes the dispatcher and its workers. Zero values take defaults.
type Config struct {
	MailboxSize   int
	BackoffStep   time.Duration
	LookupTimeout time.Duration
	// WorkerIdleTTL > 0 lets Sweep stop workers that saw no job for that long.
	WorkerIdleTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = DefaultBackoffStep
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.WorkerIdleTTL < 0 {
		c.WorkerIdleTTL = 0
	}
	return c
}

// Deps are the collaborators of the dispatcher.
type Deps struct {
	// Hostname is the relay's own host; actor URIs are rooted there.
	Hostname  string
	Followers FollowerLookup
	Sender    Sender
	Key       crypto.PrivateKey

	// Workers hosts the per-inbox workers. It should not cancel on error,
	// so that a crashed worker only takes itself down. Nil means the
	// dispatcher's own supervisor.
	Workers *supervisor.Supervisor

	Metrics   Metrics
	Heartbeat Heartbeat
	Log       logx.Logger
	Clock     clock.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Heartbeat == nil {
		d.Heartbeat = nopHeartbeat{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return d
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Relayed     uint64 `json:"relayed"`
	NoRelay     uint64 `json:"no_relay"`
	Skipped     uint64 `json:"skipped"`
	ParseErrors uint64 `json:"parse_errors"`
	LookupErrs  uint64 `json:"lookup_errors"`
	MailboxFull uint64 `json:"mailbox_full"`
	Respawns    uint64 `json:"respawns"`
	Workers     int64  `json:"workers"`
}

type nopMetrics struct{}

func (nopMetrics) PostProcessed(Outcome, time.Duration) {}
func (nopMetrics) JobDropped(DropReason)                {}
func (nopMetrics) LookupFailed()                        {}
func (nopMetrics) DeliveryFinished(bool)                {}
func (nopMetrics) Workers(int)                          {}

type nopHeartbeat struct{}

func (nopHeartbeat) Beat() {}
