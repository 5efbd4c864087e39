// Package relay is the fanout and delivery engine of the relay bot.
//
// Each feed item is resolved to relay identities (the instance it was
// published on, and every hashtag it carries). Each identity is expanded to
// the inboxes following it, deduplicated across identities, and handed to a
// per-inbox worker as a signed Announce delivery.
//
// Delivery semantics
//
// Workers are independent: a slow or failing inbox never delays another.
// Within one inbox, deliveries are attempted in submission order, one at a
// time. Delivery is best-effort and lossy by intent: a full mailbox drops the
// new job, and an inbox that failed n times in a row drops every job arriving
// within n*BackoffStep of its last attempt. Backoff state lives in memory and
// resets on restart.
package relay
