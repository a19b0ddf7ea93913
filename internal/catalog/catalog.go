// Package catalog holds the read-only registry of sequence
// definitions. A Catalog is built once at startup, validated, and then
// passed by reference into the trigger gateway and the scheduler; it
// is never mutated afterwards and is safe for concurrent readers.
package catalog

import (
	"errors"
	"fmt"

	"github.com/djlord-it/stepflow/internal/condition"
	"github.com/djlord-it/stepflow/internal/domain"
)

var ErrDefinitionNotFound = errors.New("sequence definition not found")

type Catalog struct {
	byName map[string]domain.SequenceDefinition
}

// New validates the definitions and builds an immutable catalog.
func New(defs []domain.SequenceDefinition) (*Catalog, error) {
	byName := make(map[string]domain.SequenceDefinition, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("sequence name is required")
		}
		if _, exists := byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate sequence %q", def.Name)
		}
		if len(def.Steps) == 0 {
			return nil, fmt.Errorf("sequence %q: at least one step is required", def.Name)
		}
		for i, step := range def.Steps {
			if step.Offset < 0 {
				return nil, fmt.Errorf("sequence %q step %d: offset must not be negative", def.Name, i)
			}
			if !domain.ValidChannel(step.Channel) {
				return nil, fmt.Errorf("sequence %q step %d: unknown channel %q", def.Name, i, step.Channel)
			}
			if step.Body == "" {
				return nil, fmt.Errorf("sequence %q step %d: body template is required", def.Name, i)
			}
			if err := condition.Validate(step.Condition); err != nil {
				return nil, fmt.Errorf("sequence %q step %d: %w", def.Name, i, err)
			}
		}
		byName[def.Name] = def
	}

	return &Catalog{byName: byName}, nil
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (domain.SequenceDefinition, error) {
	def, ok := c.byName[name]
	if !ok {
		return domain.SequenceDefinition{}, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	return def, nil
}

// Names returns the registered sequence names in unspecified order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered sequences.
func (c *Catalog) Len() int {
	return len(c.byName)
}
