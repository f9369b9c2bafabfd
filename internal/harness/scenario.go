package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted edit session: an initial record, a
// sequence of steps (edits, replays, flushes, hydration), and the
// trace the session should produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Initial contains the record's starting field values.
	Initial map[string]any `yaml:"initial"`

	// InvalidFields lists root fields that fail validation whenever a
	// flush payload touches them.
	InvalidFields []string `yaml:"invalid_fields,omitempty"`

	// Steps is the scripted session.
	Steps []Step `yaml:"steps"`
}

// Step is one session action. Exactly one directive must be set.
type Step struct {
	// Edit writes one field and reports it to the controller.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Undo reverts the most recent edit.
	Undo bool `yaml:"undo,omitempty"`

	// Redo reapplies the most recently undone edit.
	Redo bool `yaml:"redo,omitempty"`

	// UndoToCheckpoint rolls back to the last confirmed save.
	UndoToCheckpoint bool `yaml:"undo_to_checkpoint,omitempty"`

	// Flush saves the pending payload now.
	Flush *FlushStep `yaml:"flush,omitempty"`

	// Hydrate replaces the record with the given server state.
	Hydrate map[string]any `yaml:"hydrate,omitempty"`
}

// EditStep writes one field value at a dotted path.
type EditStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// FlushStep triggers a save; Fail scripts the transport to reject it.
type FlushStep struct {
	Fail bool `yaml:"fail,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and each
// step has exactly one directive.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		directives := 0
		if step.Edit != nil {
			directives++
			if step.Edit.Path == "" {
				return fmt.Errorf("steps[%d].edit: path is required", i)
			}
		}
		if step.Undo {
			directives++
		}
		if step.Redo {
			directives++
		}
		if step.UndoToCheckpoint {
			directives++
		}
		if step.Flush != nil {
			directives++
		}
		if step.Hydrate != nil {
			directives++
		}
		if directives != 1 {
			return fmt.Errorf("steps[%d]: exactly one directive required, got %d", i, directives)
		}
	}
	return nil
}
