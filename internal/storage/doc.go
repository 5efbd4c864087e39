// Package storage keeps the relay's follower graph: which inboxes follow
// which relay actor.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file
//   - "file": JSONL journal + snapshot, no database needed
//   - "memory": process-local, for tests and dry runs
package storage
