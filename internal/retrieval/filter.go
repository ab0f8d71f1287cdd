package retrieval

import (
	"encoding/json"
	"reflect"
	"sort"
)

// FilterByMetadata keeps the sources whose metadata[field] equals value.
// Values are compared after a JSON round trip so 1 and 1.0 match; a source
// without the field never matches.
func FilterByMetadata(sources []Source, field string, value any) []Source {
	want := normalize(value)
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		v, ok := s.Metadata[field]
		if !ok {
			continue
		}
		if reflect.DeepEqual(normalize(v), want) {
			out = append(out, s)
		}
	}
	return out
}

// MetadataFields lists the distinct metadata keys across sources, sorted.
func MetadataFields(sources []Source) []string {
	seen := map[string]struct{}{}
	for _, s := range sources {
		for k := range s.Metadata {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
