package catalog

import (
	"fmt"
	"strings"

	"github.com/liamcoop/businessrules/script"
)

// ValidateTemplateGroup checks the constraints the document schema cannot
// express.
func ValidateTemplateGroup(g *TemplateGroup) error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("template group id cannot be empty")
	}
	if len(g.RuleTemplates) == 0 {
		return fmt.Errorf("template group %s has no rule templates", g.ID)
	}

	seen := make(map[string]bool, len(g.RuleTemplates))
	for _, rt := range g.RuleTemplates {
		if rt == nil {
			return fmt.Errorf("template group %s contains an empty rule template", g.ID)
		}
		if seen[rt.ID] {
			return fmt.Errorf("duplicate rule template id %s in group %s", rt.ID, g.ID)
		}
		seen[rt.ID] = true

		if err := ValidateRuleTemplate(rt); err != nil {
			return fmt.Errorf("rule template %s: %w", rt.ID, err)
		}
	}
	return nil
}

// ValidateRuleTemplate checks a single rule template.
func ValidateRuleTemplate(rt *RuleTemplate) error {
	if strings.TrimSpace(rt.ID) == "" {
		return fmt.Errorf("rule template id cannot be empty")
	}
	if len(rt.Templates) == 0 {
		return fmt.Errorf("at least one template is required")
	}

	for i, t := range rt.Templates {
		switch t.Type {
		case TypeSiddhiApp:
		case TypeInput, TypeOutput:
			if strings.TrimSpace(t.ExposedStreamDefinition) == "" {
				return fmt.Errorf("template %d: %s template requires an exposed stream definition", i, t.Type)
			}
		default:
			return fmt.Errorf("template %d: unsupported template type %q", i, t.Type)
		}
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("template %d: content cannot be empty", i)
		}
	}

	for name := range rt.Properties {
		if err := script.ValidateIdentifier(name); err != nil {
			return fmt.Errorf("invalid property name %q: %w", name, err)
		}
	}
	return nil
}
