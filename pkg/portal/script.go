package portal

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Script is the ordered step list for one portal
type Script struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	URL   string `yaml:"url" json:"url"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// ResolvedStep is a step with its computed text
type ResolvedStep struct {
	Step
	Text string `json:"text,omitempty"`
}

// Validate checks every step
func (s *Script) Validate() error {
	if s.ID == "" {
		return errors.New("script id is required")
	}
	if s.URL == "" {
		return fmt.Errorf("script %s: url is required", s.ID)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %s: no steps", s.ID)
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("script %s: step %d: %w", s.ID, i, err)
		}
	}
	return nil
}

// Resolve computes the text of every step for period.
// The result holds the password in clear text and must not be logged.
func (s *Script) Resolve(period Period, creds Credentials) ([]ResolvedStep, error) {
	out := make([]ResolvedStep, 0, len(s.Steps))
	for i, step := range s.Steps {
		text, err := ResolveValue(step, period, creds)
		if err != nil {
			return nil, fmt.Errorf("script %s: step %d: %w", s.ID, i, err)
		}
		out = append(out, ResolvedStep{Step: step, Text: text})
	}
	return out, nil
}

// ParseScripts decodes a YAML list of scripts and validates each one
func ParseScripts(data []byte) ([]*Script, error) {
	var scripts []*Script
	if err := yaml.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("failed to parse scripts: %w", err)
	}
	for _, s := range scripts {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return scripts, nil
}

// Registry holds scripts by ID
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]*Script
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		scripts: make(map[string]*Script),
	}
}

// Add stores a script, replacing any with the same ID
func (r *Registry) Add(script *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[script.ID] = script
}

// Get retrieves a script by ID
func (r *Registry) Get(id string) *Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scripts[id]
}

// Remove deletes a script
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scripts, id)
}

// IDs returns the stored script IDs, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scripts))
	for id := range r.scripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
