// Package scheduler triggers recurring maintenance jobs (worker sweeps) on
// cron specs. Jobs run on the cron goroutine and must not block for long;
// overlapping runs of the same job are skipped.
package scheduler
