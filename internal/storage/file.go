package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"relaybot/pkg/logx"
)

const compactEvery = 1000

// fileStore persists the follow graph without a database.
//
// Files:
//   - <prefix>.follows.snapshot.json (periodic snapshot)
//   - <prefix>.follows.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.RWMutex

	snapshotPath string
	journal      *os.File
	ix           followIndex
	writes       int
}

type journalRecord struct {
	Op     string `json:"op"` // "add" | "remove"
	Follow Follow `json:"follow"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".follows.snapshot.json"
	journalPath := prefix + ".follows.journal.jsonl"

	ix := followIndex{}
	if err := loadSnapshot(snapPath, ix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, ix, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("follows", len(ix)))
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		ix:           ix,
	}, nil
}

func (s *fileStore) FollowingInboxes(ctx context.Context, actorURI string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.ix.inboxes(actorURI), nil
}

func (s *fileStore) AddFollow(_ context.Context, f Follow) error {
	if !f.valid() {
		return ErrInvalidEdge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: "add", Follow: f}); err != nil {
		return err
	}
	s.ix[f.ID] = f
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) RemoveFollow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.ix[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "remove", Follow: Follow{ID: id}}); err != nil {
		return err
	}
	delete(s.ix, id)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) appendLocked(r journalRecord) error {
	return json.NewEncoder(s.journal).Encode(r)
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%compactEvery != 0 {
		return
	}
	// Best-effort; the journal still holds everything on failure.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("follow journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.ix); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out followIndex) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Follow
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out followIndex, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	bad := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Follow.ID == "" {
			bad++
			continue
		}
		switch r.Op {
		case "add":
			out[r.Follow.ID] = r.Follow
		case "remove":
			delete(out, r.Follow.ID)
		default:
			bad++
		}
	}
	if bad > 0 {
		log.Warn("skipped unreadable journal records", logx.Int("count", bad))
	}
	return sc.Err()
}
