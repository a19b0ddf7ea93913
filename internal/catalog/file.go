package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/djlord-it/stepflow/internal/domain"
)

// fileSequence is the JSON representation of a sequence definition.
type fileSequence struct {
	Name         string     `json:"name"`
	TriggerEvent string     `json:"trigger_event"`
	Steps        []fileStep `json:"steps"`
}

type fileStep struct {
	Offset    string           `json:"offset"` // Go duration string, e.g. "2h"
	Channel   string           `json:"channel"`
	Subject   string           `json:"subject,omitempty"`
	Body      string           `json:"body"`
	Condition domain.Condition `json:"condition,omitempty"`
}

// LoadFile reads sequence definitions from a JSON file and builds a
// validated catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequences file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON definitions.
func Parse(data []byte) (*Catalog, error) {
	var raw []fileSequence
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sequences: %w", err)
	}

	defs := make([]domain.SequenceDefinition, 0, len(raw))
	for _, fs := range raw {
		def := domain.SequenceDefinition{
			Name:         fs.Name,
			TriggerEvent: fs.TriggerEvent,
		}
		for i, step := range fs.Steps {
			var offset time.Duration
			if step.Offset != "" {
				d, err := time.ParseDuration(step.Offset)
				if err != nil {
					return nil, fmt.Errorf("sequence %q step %d: invalid offset %q: %w", fs.Name, i, step.Offset, err)
				}
				offset = d
			}
			def.Steps = append(def.Steps, domain.StepDefinition{
				Offset:    offset,
				Channel:   domain.Channel(step.Channel),
				Subject:   step.Subject,
				Body:      step.Body,
				Condition: step.Condition,
			})
		}
		defs = append(defs, def)
	}

	return New(defs)
}
