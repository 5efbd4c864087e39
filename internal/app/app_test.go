package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
)

func writeKey(t *testing.T, dir string) string {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "relay.pem")
	b := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMappingDefaults(t *testing.T) {
	cfg := &config.Config{}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rc.BackoffStep != relay.DefaultBackoffStep || rc.LookupTimeout != relay.DefaultLookupTimeout || rc.WorkerIdleTTL != 0 {
		t.Fatalf("relay defaults: %+v", rc)
	}
	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "x.db"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("storage mapping: %+v", sc)
	}
	fc, buf := mapFeedConfig(cfg, "")
	if buf != defaultFeedBuffer || fc.UserAgent == "" {
		t.Fatalf("feed defaults: %+v %d", fc, buf)
	}
	if _, spec := mapSchedulerConfig(cfg); spec != defaultSweepSchedule {
		t.Fatalf("sweep spec = %q", spec)
	}
	if _, err := mapRelayConfig(&config.Config{Relay: config.RelayConfig{BackoffStep: "later"}}); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestAppRelaysStreamedPost(t *testing.T) {
	type hit struct{ path, sig string }
	delivered := make(chan hit, 4)
	inbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		delivered <- hit{r.URL.Path, r.Header.Get("Signature")}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer inbox.Close()

	post := `{"uri":"https://a.example/statuses/1","url":"https://a.example/@x/1","tags":[]}`
	stream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: update\ndata: %s\n\n", post)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer stream.Close()

	dir := t.TempDir()
	cfg := map[string]any{
		"hostname":    "relay.test",
		"private_key": writeKey(t, dir),
		"logging":     map[string]any{"level": "error"},
		"storage":     map[string]any{"driver": "memory"},
		"feed":        map[string]any{"streams": []string{stream.URL}},
	}
	b, _ := json.Marshal(cfg)
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, b, 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	actor := relay.InstanceRelay("a.example").URI("relay.test")
	if err := a.store.AddFollow(context.Background(), storage.Follow{ID: "f1", Actor: actor, Inbox: inbox.URL + "/inbox"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.health(); err != nil {
		t.Fatalf("health after start: %v", err)
	}

	select {
	case h := <-delivered:
		if h.path != "/inbox" || !strings.Contains(h.sig, `keyId="`+actor+`#key"`) {
			t.Fatalf("unexpected delivery: %+v", h)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("post was not delivered")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.health(); err == nil {
		t.Fatalf("health should fail once stopped")
	}
	if st := a.disp.Stats(); st.Relayed != 1 {
		t.Fatalf("relayed = %d", st.Relayed)
	}
}
