package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Definition variants.
const (
	TypeTemplate = "template"
	TypeScratch  = "scratch"
)

// Rule component keys of a from-scratch definition.
const (
	ComponentFilterRules = "filterRules"
	ComponentRuleLogic   = "ruleLogic"
)

// Definition is a business rule definition: exactly one of Template or
// Scratch is set, selected by Type.
type Definition struct {
	Type     string
	Template *TemplateDefinition
	Scratch  *ScratchDefinition
}

// TemplateDefinition instantiates a single rule template.
type TemplateDefinition struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	TemplateGroupID string            `json:"templateGroupId"`
	RuleTemplateID  string            `json:"ruleTemplateId"`
	Properties      map[string]string `json:"properties"`
}

// ScratchDefinition combines an input and an output rule template with
// user-authored filter and mapping fragments.
type ScratchDefinition struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	TemplateGroupID      string            `json:"templateGroupId"`
	InputRuleTemplateID  string            `json:"inputRuleTemplateId"`
	OutputRuleTemplateID string            `json:"outputRuleTemplateId"`
	Properties           ScratchProperties `json:"properties"`
}

// ScratchProperties are the user values of a from-scratch definition.
type ScratchProperties struct {
	InputData      map[string]string   `json:"inputData"`
	OutputData     map[string]string   `json:"outputData"`
	RuleComponents map[string][]string `json:"ruleComponents"`
	// OutputMappings maps output field to source expression, in the order the
	// fields appear in the composed select clause.
	OutputMappings *orderedmap.OrderedMap[string, string] `json:"outputMappings"`
}

// FromTemplate wraps d as a Definition.
func FromTemplate(d TemplateDefinition) Definition {
	return Definition{Type: TypeTemplate, Template: &d}
}

// FromScratch wraps d as a Definition.
func FromScratch(d ScratchDefinition) Definition {
	return Definition{Type: TypeScratch, Scratch: &d}
}

// ID returns the definition's identifier.
func (d Definition) ID() string {
	switch d.Type {
	case TypeTemplate:
		if d.Template != nil {
			return d.Template.ID
		}
	case TypeScratch:
		if d.Scratch != nil {
			return d.Scratch.ID
		}
	}
	return ""
}

// Name returns the definition's display name.
func (d Definition) Name() string {
	switch d.Type {
	case TypeTemplate:
		if d.Template != nil {
			return d.Template.Name
		}
	case TypeScratch:
		if d.Scratch != nil {
			return d.Scratch.Name
		}
	}
	return ""
}

// WithID returns a copy of d carrying id. Property maps are shared.
func (d Definition) WithID(id string) Definition {
	switch d.Type {
	case TypeTemplate:
		if d.Template != nil {
			t := *d.Template
			t.ID = id
			return FromTemplate(t)
		}
	case TypeScratch:
		if d.Scratch != nil {
			s := *d.Scratch
			s.ID = id
			return FromScratch(s)
		}
	}
	return d
}

// Validate checks that the variant is set and its required references are
// present. The identifier may be empty; it is assigned on create.
func (d Definition) Validate() error {
	switch d.Type {
	case TypeTemplate:
		if d.Template == nil {
			return fmt.Errorf("%w: template definition is missing", ErrInvalidDefinition)
		}
		return requireFields(map[string]string{
			"templateGroupId": d.Template.TemplateGroupID,
			"ruleTemplateId":  d.Template.RuleTemplateID,
		})
	case TypeScratch:
		if d.Scratch == nil {
			return fmt.Errorf("%w: scratch definition is missing", ErrInvalidDefinition)
		}
		if err := requireFields(map[string]string{
			"templateGroupId":      d.Scratch.TemplateGroupID,
			"inputRuleTemplateId":  d.Scratch.InputRuleTemplateID,
			"outputRuleTemplateId": d.Scratch.OutputRuleTemplateID,
		}); err != nil {
			return err
		}
		if len(d.Scratch.Properties.RuleComponents[ComponentRuleLogic]) == 0 {
			return fmt.Errorf("%w: ruleComponents.%s requires at least one fragment", ErrInvalidDefinition, ComponentRuleLogic)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, d.Type)
	}
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing %s", ErrInvalidDefinition, strings.Join(missing, ", "))
}

// Artifact is a derived, deployable stream-processing application.
type Artifact struct {
	Type                    string `json:"type"`
	Content                 string `json:"content"`
	ExposedStreamDefinition string `json:"exposedStreamDefinition,omitempty"`
}

// NamedArtifact is an artifact addressed by its deployment name.
type NamedArtifact struct {
	Name     string
	Artifact Artifact
}

// ScratchArtifacts are the two halves derived for a from-scratch rule.
type ScratchArtifacts struct {
	Input  Artifact
	Output Artifact
}

// StoredDefinition is a persisted definition with its deployment status.
type StoredDefinition struct {
	Definition Definition `json:"definition"`
	Deployed   bool       `json:"deployed"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
