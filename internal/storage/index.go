package storage

import (
	"slices"
)

// followIndex is the in-memory graph shared by the memory and file drivers.
type followIndex map[string]Follow

func (ix followIndex) inboxes(actor string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, f := range ix {
		if f.Actor != actor {
			continue
		}
		if _, ok := seen[f.Inbox]; ok {
			continue
		}
		seen[f.Inbox] = struct{}{}
		out = append(out, f.Inbox)
	}
	slices.Sort(out)
	return out
}
