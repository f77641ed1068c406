// Package resource identifies subscription targets on the update stream.
package resource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Resource is an addressable subscription target.
//
// A nil Headers map and an empty one are different resources: the former
// encodes as null in the key, the latter as {}.
type Resource struct {
	Path    string            `json:"path" yaml:"path"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// Key is the canonical string form of a Resource. Structurally equal
// resources always produce equal keys.
type Key string

// keyShape fixes field order in the encoded key.
type keyShape struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

// Key derives the resource key. encoding/json sorts map keys, so header
// insertion order does not matter.
func (r Resource) Key() Key {
	// string and map[string]string values cannot fail to encode
	data, _ := json.Marshal(keyShape{Path: r.Path, Headers: r.Headers})
	return Key(data)
}

func (r Resource) String() string {
	if len(r.Headers) == 0 {
		return r.Path
	}
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, r.Headers[name]))
	}
	return fmt.Sprintf("%s [%s]", r.Path, strings.Join(parts, ", "))
}

// Clone returns a copy whose Headers map is not shared with r. Nil stays nil.
func (r Resource) Clone() Resource {
	if r.Headers == nil {
		return Resource{Path: r.Path}
	}
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return Resource{Path: r.Path, Headers: headers}
}
