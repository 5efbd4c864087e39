package delivery

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
	"golang.org/x/time/rate"

	"relaybot/pkg/logx"
)

const (
	ContentType      = "application/activity+json"
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "relaybot"

	maxErrorBody = 512
	maxDrain     = 64 << 10
)

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

type Config struct {
	Timeout   time.Duration
	UserAgent string
	// RatePerSec > 0 caps outgoing requests across all inboxes.
	RatePerSec float64
}

type Client struct {
	http    *http.Client
	ua      string
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		ua:   cfg.UserAgent,
		log:  log,
		now:  time.Now,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c
}

// Send POSTs body to inbox signed with key under keyID.
func (c *Client) Send(ctx context.Context, inbox, keyID string, key crypto.PrivateKey, body []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Date", c.now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	// Signers keep per-call state and are not safe to share.
	signer, _, err := httpsig.NewSigner([]httpsig.Algorithm{httpsig.RSA_SHA256}, httpsig.DigestSha256, signedHeaders, httpsig.Signature, 0)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if err := signer.SignRequest(key, keyID, req, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		return &StatusError{Inbox: inbox, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	c.log.Trace("delivered", logx.String("inbox", inbox), logx.Int("status", resp.StatusCode))
	return nil
}
