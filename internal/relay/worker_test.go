package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"relaybot/internal/runtime/supervisor"
)

func testJob(n int) Job {
	return Job{
		Inbox:    "https://b.example/inbox",
		PostURL:  fmt.Sprintf("https://a.example/p/%d", n),
		ActorURI: "https://relay.test/instance/a.example",
		Body:     []byte(fmt.Sprintf(`{"n":%d}`, n)),
		KeyID:    "https://relay.test/instance/a.example#key",
	}
}

func TestWorkerBackoff(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{err: errors.New("unreachable")}
	m := newFakeMetrics()
	w := newWorker("https://b.example/inbox", Config{}.withDefaults(), Deps{Sender: sender, Metrics: m, Clock: mock}.withDefaults())
	ctx := context.Background()

	w.deliver(ctx, testJob(1)) // attempt, errors=1
	mock.Add(9 * time.Second)
	w.deliver(ctx, testJob(2)) // inside 10s window
	mock.Add(time.Second)
	w.deliver(ctx, testJob(3)) // attempt, errors=2
	mock.Add(19 * time.Second)
	w.deliver(ctx, testJob(4)) // inside 20s window
	if got := len(sender.sent()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if got := m.dropped(DropBackoff); got != 2 {
		t.Fatalf("expected 2 backoff drops, got %d", got)
	}
	if w.errors != 2 {
		t.Fatalf("expected errors=2, got %d", w.errors)
	}

	sender.setErr(nil)
	mock.Add(time.Second)
	w.deliver(ctx, testJob(5)) // attempt, succeeds
	if w.errors != 0 {
		t.Fatalf("expected errors reset, got %d", w.errors)
	}
	w.deliver(ctx, testJob(6)) // no window after success
	if got := len(sender.sent()); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if ok, failed := m.deliveries(); ok != 2 || failed != 2 {
		t.Fatalf("deliveries ok=%d failed=%d", ok, failed)
	}
}

func TestWorkerBeatsOnSuccessOnly(t *testing.T) {
	sender := &fakeSender{}
	beat := &countingBeat{}
	w := newWorker("https://b.example/inbox", Config{}.withDefaults(), Deps{Sender: sender, Heartbeat: beat, Clock: clock.NewMock()}.withDefaults())

	w.deliver(context.Background(), testJob(1))
	sender.setErr(errors.New("boom"))
	w.deliver(context.Background(), testJob(2))
	if got := beat.n.Load(); got != 1 {
		t.Fatalf("expected 1 beat, got %d", got)
	}
}

func TestWorkerCancelledSendIsNotAFailure(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{})}
	m := newFakeMetrics()
	w := newWorker("https://b.example/inbox", Config{}.withDefaults(), Deps{Sender: sender, Metrics: m, Clock: clock.NewMock()}.withDefaults())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.deliver(ctx, testJob(1))
	if w.errors != 0 {
		t.Fatalf("expected no error recorded, got %d", w.errors)
	}
	if ok, failed := m.deliveries(); ok != 0 || failed != 0 {
		t.Fatalf("deliveries ok=%d failed=%d", ok, failed)
	}
}

func TestWorkerDeliversInOrderWithoutOverlap(t *testing.T) {
	sender := &fakeSender{delay: 2 * time.Millisecond}
	w := newWorker("https://b.example/inbox", Config{}.withDefaults(), Deps{Sender: sender}.withDefaults())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.run(ctx) }()

	const n = 10
	for i := 0; i < n; i++ {
		if !w.submit(testJob(i)) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	waitFor(t, "deliveries", func() bool { return len(sender.sent()) == n })
	for i, s := range sender.sent() {
		if want := fmt.Sprintf(`{"n":%d}`, i); string(s.Body) != want {
			t.Fatalf("delivery %d body = %s, want %s", i, s.Body, want)
		}
	}
	if sender.overlap.Load() {
		t.Fatalf("sends overlapped for a single inbox")
	}

	cancel()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestWorkerSubmitDoesNotBlock(t *testing.T) {
	w := newWorker("https://b.example/inbox", Config{MailboxSize: 2}.withDefaults(), Deps{Sender: &fakeSender{}}.withDefaults())
	if !w.submit(testJob(1)) || !w.submit(testJob(2)) {
		t.Fatalf("expected room for two jobs")
	}
	if w.submit(testJob(3)) {
		t.Fatalf("expected full mailbox to reject")
	}
}

func TestWorkerPanicsOnClosedMailbox(t *testing.T) {
	sup := supervisor.New(context.Background())
	defer sup.Stop(context.Background())

	w := newWorker("https://b.example/inbox", Config{}.withDefaults(), Deps{Sender: &fakeSender{}}.withDefaults())
	sup.GoContext(sup.Context(), "worker", w.run)
	close(w.mailbox)

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit")
	}
	if w.alive() {
		t.Fatalf("expected worker to be dead")
	}
	waitFor(t, "panic recorded", func() bool { return sup.Counters().Panics == 1 })
	if sup.Context().Err() != nil {
		t.Fatalf("worker panic must not cancel the supervisor")
	}
}

func TestCooldownSaturates(t *testing.T) {
	if got := cooldown(10*time.Second, 3); got != 30*time.Second {
		t.Fatalf("cooldown = %v", got)
	}
	if got := cooldown(10*time.Second, 0); got != 0 {
		t.Fatalf("cooldown(0) = %v", got)
	}
	if got := cooldown(time.Duration(math.MaxInt64/2), math.MaxUint32); got != math.MaxInt64 {
		t.Fatalf("expected saturation, got %v", got)
	}
}

func TestErrorCounterSaturates(t *testing.T) {
	mock := clock.NewMock()
	sender := &fakeSender{err: errors.New("down")}
	w := newWorker("https://b.example/inbox", Config{BackoffStep: time.Nanosecond}.withDefaults(), Deps{Sender: sender, Clock: mock}.withDefaults())
	w.errors = math.MaxUint32
	w.lastAttempt = mock.Now().Add(-time.Hour)
	w.deliver(context.Background(), testJob(1))
	if w.errors != math.MaxUint32 {
		t.Fatalf("expected saturated counter, got %d", w.errors)
	}
}
