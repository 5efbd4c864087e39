package relay

import (
	"context"
	"crypto"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testHost = "relay.test"

type fakeLookup struct {
	mu      sync.Mutex
	inboxes map[string][]string
	errs    map[string]error
	calls   []string
}

func (f *fakeLookup) FollowingInboxes(_ context.Context, actorURI string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, actorURI)
	if err := f.errs[actorURI]; err != nil {
		return nil, err
	}
	return f.inboxes[actorURI], nil
}

type sentReq struct {
	Inbox string
	KeyID string
	Body  []byte
}

// fakeSender records every call. started is signalled when Send is entered;
// gate, when set, holds Send until it is closed.
type fakeSender struct {
	mu       sync.Mutex
	calls    []sentReq
	err      error
	gate     chan struct{}
	started  chan struct{}
	delay    time.Duration
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeSender) Send(ctx context.Context, inbox, keyID string, _ crypto.PrivateKey, body []byte) error {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentReq{Inbox: inbox, KeyID: keyID, Body: append([]byte(nil), body...)})
	return f.err
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) sent() []sentReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReq(nil), f.calls...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	outcomes  map[Outcome]int
	drops     map[DropReason]int
	lookups   int
	delivered int
	failed    int
	workers   int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: map[Outcome]int{}, drops: map[DropReason]int{}}
}

func (m *fakeMetrics) PostProcessed(o Outcome, _ time.Duration) {
	m.mu.Lock()
	m.outcomes[o]++
	m.mu.Unlock()
}

func (m *fakeMetrics) JobDropped(r DropReason) {
	m.mu.Lock()
	m.drops[r]++
	m.mu.Unlock()
}

func (m *fakeMetrics) LookupFailed() {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
}

func (m *fakeMetrics) DeliveryFinished(ok bool) {
	m.mu.Lock()
	if ok {
		m.delivered++
	} else {
		m.failed++
	}
	m.mu.Unlock()
}

func (m *fakeMetrics) Workers(n int) {
	m.mu.Lock()
	m.workers = n
	m.mu.Unlock()
}

func (m *fakeMetrics) outcome(o Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[o]
}

func (m *fakeMetrics) dropped(r DropReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[r]
}

func (m *fakeMetrics) deliveries() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered, m.failed
}

type countingBeat struct{ n atomic.Int64 }

func (b *countingBeat) Beat() { b.n.Add(1) }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func strptr(s string) *string { return &s }
