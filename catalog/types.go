// Package catalog holds the template groups that business rules are derived
// from. A Catalog is immutable once built; a Registry swaps whole catalogs
// atomically when the template directory is reloaded.
package catalog

// Template type tags.
const (
	// TypeSiddhiApp marks a complete stream-processing application template.
	TypeSiddhiApp = "siddhiApp"
	// TypeInput marks the input half of a from-scratch rule.
	TypeInput = "input"
	// TypeOutput marks the output half of a from-scratch rule.
	TypeOutput = "output"
)

// TemplateGroup is a named collection of rule templates.
type TemplateGroup struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	RuleTemplates []*RuleTemplate `json:"ruleTemplates"`
}

// RuleTemplate is a reusable script plus one or more content templates.
type RuleTemplate struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Script      string              `json:"script,omitempty"`
	Templates   []Template          `json:"templates"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// Template is a content template with ${name} placeholders.
type Template struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	// ExposedStreamDefinition is the stream signature an input or output
	// template exposes, e.g. "define stream InStream (price double);".
	ExposedStreamDefinition string `json:"exposedStreamDefinition,omitempty"`
}

// Property describes a value a rule template expects from the user.
type Property struct {
	FieldName    string   `json:"fieldName"`
	Description  string   `json:"description,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	Options      []string `json:"options,omitempty"`
}

// TemplatesOfType returns the rule template's templates with the given type,
// in declaration order.
func (rt *RuleTemplate) TemplatesOfType(templateType string) []Template {
	var out []Template
	for _, t := range rt.Templates {
		if t.Type == templateType {
			out = append(out, t)
		}
	}
	return out
}

// Defaults returns the declared default value of every property that has one.
func (rt *RuleTemplate) Defaults() map[string]string {
	defaults := make(map[string]string, len(rt.Properties))
	for name, p := range rt.Properties {
		if p.DefaultValue != "" {
			defaults[name] = p.DefaultValue
		}
	}
	return defaults
}
