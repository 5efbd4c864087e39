// Package feed ingests status updates from Server-Sent Events streaming
// endpoints (for example Mastodon's /api/v1/streaming/public) and pushes the
// raw JSON of every "update" event onto the relay's feed channel.
//
// Each stream runs under supervisor.GoRestart, so dropped connections are
// retried with jittered backoff.
package feed
