package delivery

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-fed/httpsig"

	"relaybot/pkg/logx"
)

var testKey = sync.OnceValue(func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
})

const testKeyID = "https://relay.test/instance/a.example#key"

func TestSendSignsRequest(t *testing.T) {
	key := testKey()
	body := []byte(`{"type":"Announce"}`)
	errc := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errc <- func() error {
			if r.Method != http.MethodPost {
				return errors.New("method " + r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != ContentType {
				return errors.New("content-type " + ct)
			}
			if ua := r.Header.Get("User-Agent"); ua != "relaybot-test/1" {
				return errors.New("user-agent " + ua)
			}
			if _, err := http.ParseTime(r.Header.Get("Date")); err != nil {
				return err
			}
			got, err := io.ReadAll(r.Body)
			if err != nil {
				return err
			}
			if string(got) != string(body) {
				return errors.New("body " + string(got))
			}
			sum := sha256.Sum256(body)
			if d := r.Header.Get("Digest"); d != "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]) {
				return errors.New("digest " + d)
			}
			sig := r.Header.Get("Signature")
			if !strings.Contains(sig, `headers="(request-target) host date digest"`) {
				return errors.New("signature headers " + sig)
			}
			v, err := httpsig.NewVerifier(r)
			if err != nil {
				return err
			}
			if v.KeyId() != testKeyID {
				return errors.New("keyId " + v.KeyId())
			}
			return v.Verify(&key.PublicKey, httpsig.RSA_SHA256)
		}()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "relaybot-test/1"}, logx.Nop())
	if err := c.Send(context.Background(), srv.URL+"/inbox", testKeyID, key, body); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server saw a bad request: %v", err)
	}
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = io.WriteString(w, "gone\n")
	}))
	defer srv.Close()

	err := New(Config{}, logx.Nop()).Send(context.Background(), srv.URL+"/inbox", testKeyID, testKey(), []byte(`{}`))
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusGone || se.Body != "gone" {
		t.Fatalf("unexpected status error: %#v", err)
	}
}

func TestSendCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(Config{}, logx.Nop()).Send(ctx, srv.URL, testKeyID, testKey(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestRateLimit(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{RatePerSec: 0.5}, logx.Nop())
	if err := c.Send(context.Background(), srv.URL, testKeyID, testKey(), []byte(`{}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Send(ctx, srv.URL, testKeyID, testKey(), []byte(`{}`)); err == nil {
		t.Fatalf("expected limiter to refuse within the deadline")
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected 1 request through the limiter, got %d", hits)
	}
}

func TestParsePrivateKey(t *testing.T) {
	key := testKey()

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if _, err := ParsePrivateKey(pkcs1); err != nil {
		t.Fatalf("pkcs1: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	path := filepath.Join(t.TempDir(), "relay.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadPrivateKey(path)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if rk, ok := got.(*rsa.PrivateKey); !ok || !rk.Equal(key) {
		t.Fatalf("loaded a different key")
	}

	ec, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	ecDER, _ := x509.MarshalPKCS8PrivateKey(ec)
	if _, err := ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: ecDER})); err == nil {
		t.Fatalf("expected non-RSA key to be rejected")
	}
	if _, err := ParsePrivateKey([]byte("not pem")); err == nil {
		t.Fatalf("expected garbage to be rejected")
	}
	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
