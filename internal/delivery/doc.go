// Package delivery POSTs signed ActivityPub activities to remote inboxes.
//
// Requests carry Date, Host and Digest headers and an RSA-SHA256 HTTP
// Signature over "(request-target) host date digest". A Client is safe for
// concurrent use; every worker shares one.
package delivery
