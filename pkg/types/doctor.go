// Package types holds the data shapes shared between the upstream client,
// the search index and the search service.
package types

// Record is one doctor entry as returned by the provider.
// It is passed through unchanged; only the profile name fields are ever read.
type Record map[string]any

// PageMeta is the pagination block of a provider response.
type PageMeta struct {
	Total int `json:"total"`
	Count int `json:"count"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// NextOffset returns the offset of the page following this one.
func (m PageMeta) NextOffset() int {
	return m.Count + m.Skip
}

// Page is a single provider response.
type Page struct {
	Meta PageMeta `json:"meta"`
	Data []Record `json:"data"`
}

// NameFields are the profile fields a name query is matched against.
var NameFields = []string{"first_name", "middle_name", "last_name"}

// Names returns the non-empty profile name fields of the record.
func (r Record) Names() []string {
	profile, ok := r["profile"].(map[string]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(NameFields))
	for _, field := range NameFields {
		if v, ok := profile[field].(string); ok && v != "" {
			names = append(names, v)
		}
	}
	return names
}
