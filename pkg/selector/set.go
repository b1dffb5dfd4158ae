// Package selector resolves DOM elements through ordered candidate lists.
//
// Selector knowledge lives in a versioned YAML document rather than in code:
// every logical field ("search.title", "publish.submit") maps to candidates
// tried in order, so adapting to a markup change means prepending a
// candidate to the document.
package selector

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Set is a versioned collection of candidate lists keyed by field name.
type Set struct {
	Version int                 `yaml:"version"`
	Fields  map[string][]string `yaml:"fields"`
}

// Parse decodes a selector document.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("selector: decode: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string][]string)
	}
	return &s, nil
}

// Defaults returns the embedded selector set.
func Defaults() *Set {
	s, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("selector: embedded defaults are invalid: %v", err))
	}
	return s
}

// Load returns the defaults overlaid with the document at path, if any.
// Fields present in the file replace the default candidates for that field.
func Load(path string) (*Set, error) {
	base := Defaults()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("selector: read %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return base.Merge(override), nil
}

// Merge returns a copy of s with the fields of o replacing its own.
func (s *Set) Merge(o *Set) *Set {
	out := &Set{Version: s.Version, Fields: make(map[string][]string, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = append([]string(nil), v...)
	}
	if o == nil {
		return out
	}
	if o.Version > out.Version {
		out.Version = o.Version
	}
	for k, v := range o.Fields {
		out.Fields[k] = append([]string(nil), v...)
	}
	return out
}

// Get returns the candidates for field; nil when unknown.
func (s *Set) Get(field string) []string {
	return s.Fields[field]
}

// Validate reports every required field that has no candidates.
func (s *Set) Validate(required ...string) error {
	var missing []string
	for _, f := range required {
		if len(s.Fields[f]) == 0 {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("selector: set v%d has no candidates for %v", s.Version, missing)
	}
	return nil
}
