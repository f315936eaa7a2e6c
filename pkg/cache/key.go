package cache

import (
	"sort"
	"strings"
)

// Key identifies one cached API response by its full request parameter
// set, including the envelope parameters.
type Key struct {
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: wikiquery:name=value:... with parameter names sorted.
//
// Example:
//
//	wikiquery:action=query:format=json:prop=extracts:titles=Cat
func (k Key) String() string {
	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, 1+len(names))
	parts = append(parts, "wikiquery")
	for _, name := range names {
		parts = append(parts, name+"="+k.Params[name])
	}
	return strings.Join(parts, ":")
}
