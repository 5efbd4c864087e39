package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed      = errors.New("storage closed")
	ErrNoDriver    = errors.New("storage.driver is required")
	ErrInvalidEdge = errors.New("follow needs id, actor and inbox")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Follow is one accepted Follow activity: Inbox receives what Actor relays.
type Follow struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
	Inbox string `json:"inbox"`
}

func (f Follow) valid() bool { return f.ID != "" && f.Actor != "" && f.Inbox != "" }
