// Package manifest loads the list of resources to subscribe to and keeps a
// reconciler's subscriptions in line with it.
package manifest

import (
	"fmt"
	"os"

	"hotsync/internal/resource"

	"gopkg.in/yaml.v3"
)

// File is the on-disk manifest layout:
//
//	resources:
//	  - path: /_next/static/chunks/app.js
//	    headers:
//	      accept: application/javascript
type File struct {
	Resources []resource.Resource `yaml:"resources"`
}

// Load reads and parses the manifest at path.
func Load(path string) ([]resource.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	resources, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resources, nil
}

// Parse decodes a manifest. Entries with the same key are collapsed into the
// first one; entries without a path are rejected.
func Parse(data []byte) ([]resource.Resource, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	seen := make(map[resource.Key]bool, len(f.Resources))
	out := make([]resource.Resource, 0, len(f.Resources))
	for i, res := range f.Resources {
		if res.Path == "" {
			return nil, fmt.Errorf("resource %d: missing path", i)
		}
		key := res.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, res)
	}
	return out, nil
}

// Diff compares two manifests by resource key. Both results keep the order
// of their source list.
func Diff(prev, next []resource.Resource) (added, removed []resource.Resource) {
	prevKeys := keySet(prev)
	nextKeys := keySet(next)

	for _, res := range next {
		if !prevKeys[res.Key()] {
			added = append(added, res)
		}
	}
	for _, res := range prev {
		if !nextKeys[res.Key()] {
			removed = append(removed, res)
		}
	}
	return added, removed
}

func keySet(list []resource.Resource) map[resource.Key]bool {
	out := make(map[resource.Key]bool, len(list))
	for _, res := range list {
		out[res.Key()] = true
	}
	return out
}
