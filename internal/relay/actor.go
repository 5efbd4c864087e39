package relay

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the relay identity variants.
type Kind uint8

const (
	KindInstance Kind = iota + 1
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Identity is a virtual relay actor: everyone relaying for an instance, or
// everyone relaying for a hashtag. It is comparable and used as a map key.
type Identity struct {
	Kind  Kind
	Value string
}

func InstanceRelay(host string) Identity {
	return Identity{Kind: KindInstance, Value: strings.ToLower(host)}
}

func HashtagRelay(tag string) Identity {
	return Identity{Kind: KindTag, Value: normalizeTag(tag)}
}

// URI is the actor id served under base (the relay's own hostname).
func (id Identity) URI(base string) string {
	switch id.Kind {
	case KindInstance:
		return "https://" + base + "/instance/" + id.Value
	case KindTag:
		return "https://" + base + "/tag/" + id.Value
	default:
		panic("relay: unknown identity kind " + id.Kind.String())
	}
}

// KeyID is the public key id used in HTTP signatures for this actor.
func (id Identity) KeyID(base string) string {
	return id.URI(base) + "#key"
}

func (id Identity) String() string { return id.Kind.String() + ":" + id.Value }

// normalizeTag folds accents, case and whitespace so "Café Noir" and
// "cafenoir" address the same relay.
func normalizeTag(tag string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, tag)
	if err != nil {
		folded = tag
	}
	folded = strings.ToLower(folded)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}
