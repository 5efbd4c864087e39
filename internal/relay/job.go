package relay

import "crypto"

// Job is one signed delivery of an announce body to one inbox.
// Body and Key are shared by every job of the same identity and must not be mutated.
type Job struct {
	Inbox    string
	PostURL  string
	ActorURI string
	Body     []byte
	KeyID    string
	Key      crypto.PrivateKey
}
