package write

import "strings"

// EntityResolver maps posts onto canonical entities. The config section
// gives each canonical entity a comma-separated alias list (source names
// and handles); matching is case-insensitive and exact.
type EntityResolver struct {
	byAlias     map[string]string // lower(alias) -> canonical
	byCanonical map[string]string // lower(canonical) -> canonical
}

// NewEntityResolver builds a resolver from the raw config mapping of
// canonical entity -> "alias1, alias2".
func NewEntityResolver(mapping map[string]string) *EntityResolver {
	r := &EntityResolver{
		byAlias:     make(map[string]string),
		byCanonical: make(map[string]string),
	}
	for canonical, aliases := range mapping {
		r.byCanonical[strings.ToLower(canonical)] = canonical
		for _, alias := range strings.Split(aliases, ",") {
			alias = strings.TrimSpace(alias)
			if alias != "" {
				r.byAlias[strings.ToLower(alias)] = canonical
			}
		}
	}
	return r
}

// Resolve picks the entity for a post: the source-name alias map first,
// then the model-provided entity if it names a configured one, otherwise
// the catch-all bucket.
func (r *EntityResolver) Resolve(sourceName, primaryEntity string) string {
	if canonical, ok := r.byAlias[strings.ToLower(sourceName)]; ok {
		return canonical
	}
	if primaryEntity != "" {
		if canonical, ok := r.byCanonical[strings.ToLower(primaryEntity)]; ok {
			return canonical
		}
	}
	return "Others"
}
