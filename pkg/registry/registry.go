// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cat, err := ParseCatalog(data)
	return cat, data, err
}

// ParseCatalog decodes catalog JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &cat, nil
}

// Duplicates returns keys that appear more than once.
func (c *Catalog) Duplicates() []string {
	seen := make(map[string]int, len(c.Templates))
	for _, t := range c.Templates {
		seen[t.Key()]++
	}
	var dups []string
	for k, n := range seen {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	sort.Strings(dups)
	return dups
}

// Save writes the catalog with sorted entries and a fresh lastUpdated stamp.
func (c *Catalog) Save(path string) error {
	sort.SliceStable(c.Templates, func(i, j int) bool {
		return c.Templates[i].Key() < c.Templates[j].Key()
	})
	c.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
