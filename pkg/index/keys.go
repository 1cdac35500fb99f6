package index

import (
	"strings"
)

// termSeparator splits a term from its document id in sorted set members.
// It sorts below every printable byte, so "smith\x00" orders before "smithe".
const termSeparator = "\x00"

// Keys derives the Redis key names for one index.
type Keys struct {
	// Name is the index/collection name, e.g. "doctors".
	Name string
}

// Docs is the hash holding document JSON by id.
// Format: <name>:docs
func (k Keys) Docs() string {
	return k.prefix() + ":docs"
}

// Terms is the sorted set of term\x00id members, all with score 0.
// Format: <name>:terms
func (k Keys) Terms() string {
	return k.prefix() + ":terms"
}

func (k Keys) prefix() string {
	name := strings.Trim(k.Name, ":")
	if name == "" {
		name = "doctors"
	}
	return name
}

// termMember encodes a term posting.
func termMember(term, id string) string {
	return term + termSeparator + id
}

// parseTermMember returns the id of a term posting.
func parseTermMember(member string) (id string, ok bool) {
	i := strings.LastIndex(member, termSeparator)
	if i < 0 || i == len(member)-1 {
		return "", false
	}
	return member[i+1:], true
}
