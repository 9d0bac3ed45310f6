package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/orchestra/pkg/core"
)

// File is the on-disk roster format.
type File struct {
	// Replace drops the built-in roster instead of overlaying it.
	Replace bool                   `yaml:"replace"`
	Workers []core.AgentCapability `yaml:"workers"`
	Aliases map[string]string      `yaml:"aliases"`
}

// Parse decodes a roster document and lays it over base. A nil base or
// replace: true yields a roster with only the document's workers.
func Parse(raw []byte, base *Roster) (*Roster, error) {
	var doc File
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	overlay, err := New(doc.Workers...)
	if err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	result := overlay
	if base != nil && !doc.Replace {
		result = base.Merge(overlay)
	}
	for a, target := range doc.Aliases {
		role, ok := result.Resolve(target)
		if !ok {
			return nil, fmt.Errorf("parse roster: alias %q targets unknown role %q", a, target)
		}
		if err := result.alias(a, role); err != nil {
			return nil, fmt.Errorf("parse roster: %w", err)
		}
	}
	if result.Len() == 0 {
		return nil, fmt.Errorf("parse roster: no workers defined")
	}
	return result, nil
}

// LoadFile reads a roster document from path and lays it over base.
func LoadFile(path string, base *Roster) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(raw, base)
}
