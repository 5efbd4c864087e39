package storage

import (
	"context"
	"errors"
	"strings"

	"relaybot/pkg/logx"
)

// Store is the follower graph used by the relay.
type Store interface {
	// FollowingInboxes returns the distinct inboxes following actorURI,
	// sorted. An unknown actor yields an empty slice.
	FollowingInboxes(ctx context.Context, actorURI string) ([]string, error)
	// AddFollow records f, replacing an existing follow with the same ID.
	AddFollow(ctx context.Context, f Follow) error
	// RemoveFollow deletes the follow with id; unknown ids are not an error.
	RemoveFollow(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrNoDriver
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
