// Package registry holds the explicit action registry: the canonical
// mapping from action name to read/write classification and owning agent
// type. The classification a caller places on an ActionRequest must come
// from here; it is declared configuration, never guessed from the action
// name.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/adithya0597/reins/pkg/contracts"
)

// ErrUnknownAction means the action is not declared in the registry.
var ErrUnknownAction = errors.New("unknown action")

// ActionDef declares one gateable action.
type ActionDef struct {
	Name           string                   `yaml:"name"`
	AgentType      string                   `yaml:"agent_type"`
	Classification contracts.Classification `yaml:"classification"`
	Description    string                   `yaml:"description,omitempty"`
}

type registryFile struct {
	Actions []ActionDef `yaml:"actions"`
}

// Registry is an immutable-after-load action registry, safe for concurrent
// reads.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionDef
}

// New builds a registry from explicit definitions. Duplicate names and
// invalid classifications are rejected.
func New(defs []ActionDef) (*Registry, error) {
	actions := make(map[string]ActionDef, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("action definition missing name")
		}
		if !def.Classification.Valid() {
			return nil, fmt.Errorf("action %s: invalid classification %q", def.Name, def.Classification)
		}
		if _, dup := actions[def.Name]; dup {
			return nil, fmt.Errorf("duplicate action definition %s", def.Name)
		}
		actions[def.Name] = def
	}
	return &Registry{actions: actions}, nil
}

// LoadFile reads a YAML registry file:
//
//	actions:
//	  - name: apply
//	    agent_type: application
//	    classification: write
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading action registry %s: %w", path, err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing action registry %s: %w", path, err)
	}
	reg, err := New(file.Actions)
	if err != nil {
		return nil, fmt.Errorf("action registry %s: %w", path, err)
	}
	return reg, nil
}

// Get returns the definition of a declared action.
func (r *Registry) Get(name string) (ActionDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[name]
	if !ok {
		return ActionDef{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return def, nil
}

// Classify returns the declared classification of an action.
func (r *Registry) Classify(name string) (contracts.Classification, error) {
	def, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return def.Classification, nil
}

// Names returns all declared action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request builds an ActionRequest for a declared action, stamping the
// registry's classification and agent type onto it.
func (r *Registry) Request(userID, action string, payload map[string]any, rationale string, confidence float64) (contracts.ActionRequest, error) {
	def, err := r.Get(action)
	if err != nil {
		return contracts.ActionRequest{}, err
	}
	return contracts.ActionRequest{
		UserID:         userID,
		AgentType:      def.AgentType,
		ActionName:     def.Name,
		Classification: def.Classification,
		Payload:        payload,
		Rationale:      rationale,
		Confidence:     confidence,
	}, nil
}
