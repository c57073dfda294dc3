package model

// Metadata is produced by the MetaService collaborator and is treated as
// immutable per MediaKey for the duration of its cache TTL.
type Metadata struct {
	Name              string
	Year              int
	OriginalTitle     string
	AlternativeTitles []string
}

// SearchTerms returns the name plus original/alternative titles, de-duplicated,
// for providers whose search operation benefits from multiple query strings.
func (m Metadata) SearchTerms() []string {
	terms := make([]string, 0, 2+len(m.AlternativeTitles))
	seen := make(map[string]struct{}, cap(terms))
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		terms = append(terms, s)
	}
	add(m.Name)
	add(m.OriginalTitle)
	for _, t := range m.AlternativeTitles {
		add(t)
	}
	return terms
}
