package index

import (
	"strings"
	"unicode"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

// NameFieldPattern is the field pattern name queries run against.
const NameFieldPattern = "profile.*_name"

// Query is a conjunction of lowercase prefix terms.
type Query struct {
	Terms []string
}

// ParseQuery tokenizes name on whitespace; each token becomes a prefix term.
// Tokens that render to nothing in query_string syntax are dropped, so no
// term can become a bare wildcard.
func ParseQuery(name string) Query {
	fields := strings.Fields(name)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		term := strings.ToLower(f)
		if escapeQueryString(term) == "" {
			continue
		}
		terms = append(terms, term)
	}
	return Query{Terms: terms}
}

// Empty reports whether the query has no terms.
func (q Query) Empty() bool {
	return len(q.Terms) == 0
}

// QueryString renders the query in Lucene query_string syntax,
// e.g. "john* AND smi*".
func (q Query) QueryString() string {
	parts := make([]string, len(q.Terms))
	for i, term := range q.Terms {
		parts[i] = escapeQueryString(term) + "*"
	}
	return strings.Join(parts, " AND ")
}

// Matches reports whether every term prefixes some word of the record's
// profile name fields.
func (q Query) Matches(r types.Record) bool {
	if q.Empty() {
		return false
	}
	words := NameTerms(r)
	for _, term := range q.Terms {
		found := false
		for _, w := range words {
			if strings.HasPrefix(w, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NameTerms returns the lowercase words of the record's profile name fields.
func NameTerms(r types.Record) []string {
	var words []string
	for _, name := range r.Names() {
		words = append(words, tokenize(name)...)
	}
	return words
}

// tokenize splits on anything that is not a letter, digit or apostrophe,
// close to what the standard analyzer does to person names.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// query_string reserved characters. '<' and '>' cannot be escaped and are dropped.
var queryStringEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `=`, `\=`, `&`, `\&`, `|`, `\|`,
	`!`, `\!`, `(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`,
	`]`, `\]`, `^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`,
	`:`, `\:`, `/`, `\/`, `<`, ``, `>`, ``,
)

func escapeQueryString(term string) string {
	return queryStringEscaper.Replace(term)
}
