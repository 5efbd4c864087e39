package relay

import (
	"context"

	"relaybot/internal/runtime/supervisor"
)

// Spawn starts the dispatcher on feed under sup and returns immediately.
// The dispatcher stops when feed is closed or sup is cancelled. Workers run
// under deps.Workers when it is set, so sup may cancel on error while
// worker crashes stay isolated.
func Spawn(sup *supervisor.Supervisor, cfg Config, deps Deps, feed <-chan string) *Dispatcher {
	d := New(sup, cfg, deps)
	sup.Go("relay.dispatch", func(ctx context.Context) error {
		return d.Run(ctx, feed)
	})
	return d
}
