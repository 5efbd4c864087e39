package relay

import (
	"encoding/json"
	"errors"
	"iter"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var ErrMissingURI = errors.New("post: missing uri")

// Post is the subset of a streamed status the relay needs.
type Post struct {
	URL  *string `json:"url"`
	URI  string  `json:"uri"`
	Tags []Tag   `json:"tags"`
}

type Tag struct {
	Name string `json:"name"`
}

// ParsePost decodes one feed payload. Unknown fields are ignored.
func ParsePost(data []byte) (Post, error) {
	var p Post
	if err := json.Unmarshal(data, &p); err != nil {
		return Post{}, err
	}
	if p.URI == "" {
		return Post{}, ErrMissingURI
	}
	return p, nil
}

// Reshare reports whether the post carries no url (boosts/reblogs). A
// present but blank or unparseable url is not a reshare: the post has no
// instance relay but its hashtag relays still apply.
func (p Post) Reshare() bool {
	return p.URL == nil
}

// Link returns the post url, or "" for reshares.
func (p Post) Link() string {
	if p.Reshare() {
		return ""
	}
	return *p.URL
}

// Host returns the lowercase ASCII domain of the post url.
// ok is false when the url does not parse, has no host, or names an IP.
func (p Post) Host() (string, bool) {
	if p.Reshare() {
		return "", false
	}
	u, err := url.Parse(*p.URL)
	if err != nil {
		return "", false
	}
	h := u.Hostname()
	if h == "" || net.ParseIP(h) != nil {
		return "", false
	}
	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		return "", false
	}
	return strings.ToLower(ascii), true
}

// Targets yields the relay identities this post should be announced to:
// the instance relay of its host first, then one hashtag relay per tag in
// order. Duplicates are not removed here.
func (p Post) Targets() iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		if p.Reshare() {
			return
		}
		if host, ok := p.Host(); ok {
			if !yield(InstanceRelay(host)) {
				return
			}
		}
		for _, t := range p.Tags {
			if !yield(HashtagRelay(t.Name)) {
				return
			}
		}
	}
}
