package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

const validJSON = `{
  "hostname": "relay.example",
  "private_key": "./relay.pem",
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./relay.db"},
  "relay": {"mailbox_size": 64, "backoff_step": "5s", "sweep_schedule": "@every 10m"},
  "delivery": {"timeout": "8s", "rate_per_sec": 20},
  "feed": {"streams": ["https://a.example/api/v1/streaming/public"]}
}`

const validYAML = `
hostname: relay.example
private_key: ./relay.pem
logging:
  level: debug
storage:
  driver: file
  path: ./relay
relay:
  worker_idle_ttl: 1h
feed:
  streams:
    - https://a.example/api/v1/streaming/public
  buffer: 32
`

func TestDecodeJSONAndYAML(t *testing.T) {
	cfg, err := Decode("config.json", []byte(validJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Relay.MailboxSize != 64 || cfg.Storage.Driver != "sqlite" || cfg.Delivery.RatePerSec != 20 {
		t.Fatalf("unexpected json config: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(json): %v", err)
	}

	cfg, err = Decode("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Relay.WorkerIdleTTL != "1h" || cfg.Feed.Buffer != 32 || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(yaml): %v", err)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"hostname":"x","admin":{}}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"hostname":"x"}{"hostname":"y"}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("c.yml", []byte("relay:\n  bogus: 1\n")); err == nil {
		t.Fatalf("expected unknown yaml field error")
	}
	if _, err := Decode("c.yaml", []byte("hostname: a\n---\nhostname: b\n")); err == nil {
		t.Fatalf("expected multi-document error")
	}
	if _, err := Decode("c.yaml", nil); err == nil {
		t.Fatalf("expected empty document error")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Hostname: "https://relay.example/",
		Logging:  LoggingConfig{Level: "loud"},
		Storage:  StorageConfig{Driver: "sqlite"},
		Relay:    RelayConfig{BackoffStep: "soon", SweepSchedule: "whenever", MailboxSize: -1},
		Delivery: DeliveryConfig{RatePerSec: -1},
		Feed:     FeedConfig{Streams: []string{"ftp://x"}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"hostname must be a bare host",
		"private_key is required",
		"logging.level",
		"storage.path is required",
		"relay.mailbox_size",
		"relay.backoff_step",
		"relay.sweep_schedule",
		"delivery.rate_per_sec",
		"feed.streams[0]",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 3s "); err != nil || d != 3*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected negative duration error")
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default not applied: %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a, _ := Decode("c.json", []byte(validJSON))
	b, _ := Decode("c.json", []byte(validJSON))
	if changed, _ := SummarizeConfigChange(a, b); len(changed) != 0 {
		t.Fatalf("expected no changes, got %v", changed)
	}

	b.Logging.Level = "debug"
	b.Relay.BackoffStep = "20s"
	b.Feed.Token = "secret"
	changed, attrs := SummarizeConfigChange(a, b)
	if !slices.Equal(changed, []string{"feed", "logging", "relay"}) {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewJSON(&buf, "info").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("token leaked into summary: %s", buf.String())
	}
	if got := NeedsRestart(changed); !slices.Equal(got, []string{"feed", "relay"}) {
		t.Fatalf("NeedsRestart = %v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hostname":"relay.example"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(validJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and not published.
	if err := os.WriteFile(path, []byte(strings.Replace(validJSON, `"relay.example"`, `""`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte(strings.Replace(validJSON, `"level": "info"`, `"level": "debug"`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("valid change never published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("change not committed")
	}
}
