// Package registry provides the immutable catalog of approval workflow definitions.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/merchplan/approvals/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var embeddedDefinitions []byte

//go:embed schema.json
var definitionsSchema string

var (
	// ErrUnknownWorkflowType is returned when a workflow type has no definition.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrInvalidDefinition indicates a malformed definitions document or catalog.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)

// Registry maps workflow types to their definitions. It is built once and
// never mutated, so it is safe for concurrent use without locking.
type Registry struct {
	definitions map[models.WorkflowType]models.WorkflowDefinition
	types       []models.WorkflowType
}

type document struct {
	Workflows []models.WorkflowDefinition `yaml:"workflows"`
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	reg, err := Parse(embeddedDefinitions)
	if err != nil {
		panic(fmt.Errorf("embedded workflow definitions: %w", err))
	}

	return reg
})

// Default returns the catalog compiled into the binary.
func Default() *Registry {
	return defaultRegistry()
}

// New builds a registry from literal definitions.
func New(definitions ...models.WorkflowDefinition) (*Registry, error) {
	reg := &Registry{
		definitions: make(map[models.WorkflowType]models.WorkflowDefinition, len(definitions)),
		types:       make([]models.WorkflowType, 0, len(definitions)),
	}

	for _, definition := range definitions {
		if err := validate(definition); err != nil {
			return nil, err
		}

		if _, exists := reg.definitions[definition.Type]; exists {
			return nil, fmt.Errorf("%w: duplicate type %s", ErrInvalidDefinition, definition.Type)
		}

		reg.definitions[definition.Type] = clone(definition)
		reg.types = append(reg.types, definition.Type)
	}

	slices.Sort(reg.types)

	return reg, nil
}

// Load reads a YAML definitions document.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definitions: %w", err)
	}

	return Parse(data)
}

// Parse validates a YAML definitions document against the schema and builds a registry from it.
func Parse(data []byte) (*Registry, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionsSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate workflow definitions: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	return New(doc.Workflows...)
}

// Lookup returns the definition for the given type.
func (r *Registry) Lookup(workflowType models.WorkflowType) (models.WorkflowDefinition, error) {
	definition, ok := r.definitions[workflowType]
	if !ok {
		return models.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}

	return clone(definition), nil
}

// Types returns the registered workflow types in sorted order.
func (r *Registry) Types() []models.WorkflowType {
	return slices.Clone(r.types)
}

// Definitions returns every definition ordered by type.
func (r *Registry) Definitions() []models.WorkflowDefinition {
	definitions := make([]models.WorkflowDefinition, 0, len(r.types))
	for _, workflowType := range r.types {
		definitions = append(definitions, clone(r.definitions[workflowType]))
	}

	return definitions
}

func validate(definition models.WorkflowDefinition) error {
	if definition.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidDefinition)
	}

	if len(definition.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidDefinition, definition.Type)
	}

	for i, step := range definition.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: %s step %d has no name", ErrInvalidDefinition, definition.Type, i+1)
		}

		if step.SLAHours != nil && *step.SLAHours <= 0 {
			return fmt.Errorf("%w: %s step %d has a non-positive SLA", ErrInvalidDefinition, definition.Type, i+1)
		}
	}

	return nil
}

// clone copies the step slice so callers cannot mutate the catalog.
func clone(definition models.WorkflowDefinition) models.WorkflowDefinition {
	steps := make([]models.StepTemplate, len(definition.Steps))

	for i, step := range definition.Steps {
		if step.RequiredRole != nil {
			role := *step.RequiredRole
			step.RequiredRole = &role
		}

		if step.SLAHours != nil {
			hours := *step.SLAHours
			step.SLAHours = &hours
		}

		steps[i] = step
	}

	return models.WorkflowDefinition{Type: definition.Type, Steps: steps}
}
