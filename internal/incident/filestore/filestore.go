// Package filestore provides an incident.Registry backed by a JSON or YAML
// file loaded once at startup.
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// Store is an immutable, ordered incident set.
type Store struct {
	entries []incident.Entry
}

// New keys incs in order and returns a Store over them.
func New(incs []incident.Incident) *Store {
	return &Store{entries: incident.Entries(incs)}
}

// Load reads incidents from path. The file holds either a bare sequence of
// incidents or a mapping with an "incidents" key; JSON parses as YAML.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied config
	if err != nil {
		return nil, fmt.Errorf("read incidents file: %w", err)
	}
	incs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(incs), nil
}

// Parse decodes an incident document.
func Parse(data []byte) ([]incident.Incident, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse incidents: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	var incs []incident.Incident
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&incs); err != nil {
			return nil, fmt.Errorf("decode incidents: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Incidents []incident.Incident `yaml:"incidents"`
		}
		if err := doc.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("decode incidents: %w", err)
		}
		incs = wrapped.Incidents
	default:
		return nil, fmt.Errorf("parse incidents: expected a list or an incidents mapping")
	}
	return incs, nil
}

// List implements incident.Registry.
func (s *Store) List(context.Context) ([]incident.Entry, error) {
	out := make([]incident.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Get implements incident.Registry.
func (s *Store) Get(_ context.Context, key string) (incident.Entry, bool, error) {
	e, ok := incident.Find(s.entries, key)
	return e, ok, nil
}

// Incidents returns the raw incident sequence in source order.
func (s *Store) Incidents() []incident.Incident {
	out := make([]incident.Incident, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].Incident
	}
	return out
}
