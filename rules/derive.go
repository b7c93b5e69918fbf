package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/placeholder"
	"github.com/liamcoop/businessrules/script"
)

// CatalogSource supplies the catalog snapshot used for one derivation.
// *catalog.Registry implements it.
type CatalogSource interface {
	Current() *catalog.Catalog
}

// Deriver turns business rule definitions into artifacts.
type Deriver struct {
	catalog   CatalogSource
	evaluator script.Evaluator
	logger    *slog.Logger
	strict    bool
}

// DeriverOption configures a Deriver.
type DeriverOption func(*Deriver)

// WithDeriverLogger sets the logger for skipped templates and leftover markers.
func WithDeriverLogger(l *slog.Logger) DeriverOption {
	return func(d *Deriver) {
		d.logger = l
	}
}

// WithStrictPlaceholders controls whether a derived artifact that still holds
// a ${name} marker is rejected (true, the default) or kept with a warning.
func WithStrictPlaceholders(strict bool) DeriverOption {
	return func(d *Deriver) {
		d.strict = strict
	}
}

// NewDeriver creates a deriver reading rule templates from source and running
// their scripts with evaluator.
func NewDeriver(source CatalogSource, evaluator script.Evaluator, opts ...DeriverOption) *Deriver {
	d := &Deriver{
		catalog:   source,
		evaluator: evaluator,
		strict:    true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.OrDefault(d.logger)
	return d
}

// DeriveFromTemplate derives one artifact per siddhiApp template of the rule
// template def refers to, named <def.ID>_<index>. A template that fails to
// derive is logged and skipped; the index counts only derived artifacts.
func (d *Deriver) DeriveFromTemplate(ctx context.Context, def TemplateDefinition) ([]NamedArtifact, error) {
	rt, err := d.catalog.Current().RuleTemplate(def.TemplateGroupID, def.RuleTemplateID)
	if err != nil {
		return nil, err
	}

	values, err := d.resolveValues(ctx, rt, def.Properties)
	if err != nil {
		return nil, err
	}

	var artifacts []NamedArtifact
	for i, t := range rt.Templates {
		if t.Type != catalog.TypeSiddhiApp {
			continue
		}

		name := fmt.Sprintf("%s_%d", def.ID, len(artifacts))
		content, err := d.substitute(t.Content, values)
		if err == nil {
			content, err = renameApp(content, name)
		}
		if err != nil {
			d.logger.Warn("skipping template that failed to derive",
				"rule_id", def.ID, "rule_template", rt.ID, "template_index", i, "error", err)
			continue
		}

		artifacts = append(artifacts, NamedArtifact{
			Name:     name,
			Artifact: Artifact{Type: catalog.TypeSiddhiApp, Content: content},
		})
	}
	return artifacts, nil
}

// DeriveFromScratch derives the input and output halves of a from-scratch
// rule. Both are required: any failure fails the whole derivation.
func (d *Deriver) DeriveFromScratch(ctx context.Context, def ScratchDefinition) (*ScratchArtifacts, error) {
	cat := d.catalog.Current()

	inputRT, err := cat.RuleTemplate(def.TemplateGroupID, def.InputRuleTemplateID)
	if err != nil {
		return nil, err
	}
	outputRT, err := cat.RuleTemplate(def.TemplateGroupID, def.OutputRuleTemplateID)
	if err != nil {
		return nil, err
	}

	inputTemplate, err := roleTemplate(inputRT, catalog.TypeInput)
	if err != nil {
		return nil, err
	}
	outputTemplate, err := roleTemplate(outputRT, catalog.TypeOutput)
	if err != nil {
		return nil, err
	}

	input, err := d.deriveRole(ctx, inputRT, inputTemplate, def.Properties.InputData)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	output, err := d.deriveRole(ctx, outputRT, outputTemplate, def.Properties.OutputData)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	return &ScratchArtifacts{Input: input, Output: output}, nil
}

func (d *Deriver) deriveRole(ctx context.Context, rt *catalog.RuleTemplate, t catalog.Template, props map[string]string) (Artifact, error) {
	values, err := d.resolveValues(ctx, rt, props)
	if err != nil {
		return Artifact{}, err
	}

	content, err := d.substitute(stripAppName(t.Content), values)
	if err != nil {
		return Artifact{}, fmt.Errorf("rule template %s: %w", rt.ID, err)
	}
	signature, err := d.substitute(t.ExposedStreamDefinition, values)
	if err != nil {
		return Artifact{}, fmt.Errorf("rule template %s stream definition: %w", rt.ID, err)
	}

	return Artifact{
		Type:                    catalog.TypeSiddhiApp,
		Content:                 content,
		ExposedStreamDefinition: signature,
	}, nil
}

// resolveValues merges declared defaults, user values and the variables the
// rule template's script generates, later sources winning. The script is
// seeded with the defaults and user values, both as ${name} substitutions in
// its text and as bound variables. props is never modified.
func (d *Deriver) resolveValues(ctx context.Context, rt *catalog.RuleTemplate, props map[string]string) (map[string]string, error) {
	values := rt.Defaults()
	for k, v := range props {
		values[k] = v
	}

	if strings.TrimSpace(rt.Script) == "" {
		return values, nil
	}

	runnable := placeholder.Substitute(rt.Script, values)
	generated, err := d.evaluator.Evaluate(ctx, runnable, values)
	if err != nil {
		return nil, fmt.Errorf("%w: rule template %s: %w", ErrScriptExecution, rt.ID, err)
	}
	for k, v := range generated {
		values[k] = v
	}
	return values, nil
}

// substitute fills text from values and applies the unresolved-marker policy.
// Only markers of text itself count; values may contain marker-like text.
func (d *Deriver) substitute(text string, values map[string]string) (string, error) {
	var missing []string
	for _, name := range placeholder.Unresolved(text) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}

	out := placeholder.Substitute(text, values)
	if len(missing) > 0 {
		if d.strict {
			return "", fmt.Errorf("%w: %s", ErrSubstitution, strings.Join(missing, ", "))
		}
		d.logger.Warn("derived content retains unresolved placeholders", "placeholders", missing)
	}
	return out, nil
}

// roleTemplate returns the single template rt exposes for role.
func roleTemplate(rt *catalog.RuleTemplate, role string) (catalog.Template, error) {
	templates := rt.TemplatesOfType(role)
	if len(templates) != 1 {
		return catalog.Template{}, fmt.Errorf("%w: rule template %s exposes %d %s templates",
			ErrRoleCardinality, rt.ID, len(templates), role)
	}
	return templates[0], nil
}
