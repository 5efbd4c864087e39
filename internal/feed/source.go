package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

const UpdateEvent = "update"

var errStreamEnded = errors.New("stream ended")

type Config struct {
	Streams   []string
	Token     string
	UserAgent string
}

// Stats counts stream activity since start.
type Stats struct {
	Connects  uint64 `json:"connects"`
	Events    uint64 `json:"events"`
	Forwarded uint64 `json:"forwarded"`
}

// Source fans every configured stream into one output channel.
type Source struct {
	cfg  Config
	out  chan<- string
	http *http.Client
	log  logx.Logger

	connects  atomic.Uint64
	events    atomic.Uint64
	forwarded atomic.Uint64
}

func New(cfg Config, out chan<- string, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{
		cfg: cfg,
		out: out,
		// No client timeout: streams are long-lived and end with ctx.
		http: &http.Client{},
		log:  log,
	}
}

// Start runs one restarting consumer per stream under sup. opts are applied
// after the defaults.
func (s *Source) Start(sup *supervisor.Supervisor, opts ...supervisor.RestartOption) {
	base := []supervisor.RestartOption{
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithStopOnCleanExit(false),
	}
	base = append(base, opts...)
	for _, url := range s.cfg.Streams {
		url := strings.TrimSpace(url)
		if url == "" {
			continue
		}
		sup.GoRestart("feed.stream", func(ctx context.Context) error {
			return s.Stream(ctx, url)
		}, base...)
	}
}

func (s *Source) Stats() Stats {
	return Stats{
		Connects:  s.connects.Load(),
		Events:    s.events.Load(),
		Forwarded: s.forwarded.Load(),
	}
}

// Stream consumes a single connection to url until it fails or ctx is done.
// It never returns nil while ctx is live.
func (s *Source) Stream(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if tok := strings.TrimSpace(s.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("stream %s: http=%d", url, resp.StatusCode)
	}

	s.connects.Add(1)
	log := s.log.With(logx.String("stream", url))
	log.Info("stream connected")

	err = readEvents(resp.Body, func(ev Event) error {
		s.events.Add(1)
		if ev.Type != UpdateEvent {
			return nil
		}
		select {
		case s.out <- ev.Data:
			s.forwarded.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errStreamEnded
	}
	log.Warn("stream disconnected", logx.Err(err))
	return err
}
