package relay

import "encoding/json"

const (
	activityStreamsContext = "https://www.w3.org/ns/activitystreams"
	publicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

// Announce is the ActivityPub activity re-broadcasting a post.
type Announce struct {
	Context string   `json:"@context"`
	Type    string   `json:"type"`
	Actor   string   `json:"actor"`
	To      []string `json:"to"`
	Object  string   `json:"object"`
	ID      string   `json:"id"`
}

func NewAnnounce(actorURI string, p Post) Announce {
	return Announce{
		Context: activityStreamsContext,
		Type:    "Announce",
		Actor:   actorURI,
		To:      []string{publicCollection},
		Object:  p.URI,
		ID:      p.Link(),
	}
}

func (a Announce) Marshal() ([]byte, error) { return json.Marshal(a) }
