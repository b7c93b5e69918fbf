package rules

import (
	"fmt"
	"strings"

	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/placeholder"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Composer merges the halves of a from-scratch rule into one application.
type Composer struct {
	skeleton SkeletonProvider
}

// NewComposer creates a composer. A nil provider uses EmbeddedSkeleton.
func NewComposer(skeleton SkeletonProvider) *Composer {
	if skeleton == nil {
		skeleton = EmbeddedSkeleton{}
	}
	return &Composer{skeleton: skeleton}
}

// Compose builds the composite application named id. The logic is the first
// ruleLogic fragment with ${1}, ${2}, ... replaced by the filterRules
// fragments; the mapping renders each output mapping as "<expr> as <field>"
// in insertion order.
func (c *Composer) Compose(
	input, output Artifact,
	components map[string][]string,
	mappings *orderedmap.OrderedMap[string, string],
	id string,
) (Artifact, error) {
	skeleton, err := c.skeleton.Load()
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrSkeletonLoad, err)
	}
	if err := validateSkeleton(skeleton); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrSkeletonLoad, err)
	}

	inputStream, err := StreamName(input.ExposedStreamDefinition)
	if err != nil {
		return Artifact{}, fmt.Errorf("input: %w", err)
	}
	outputStream, err := StreamName(output.ExposedStreamDefinition)
	if err != nil {
		return Artifact{}, fmt.Errorf("output: %w", err)
	}

	logic, err := ComposeLogic(components)
	if err != nil {
		return Artifact{}, err
	}

	// The name goes in before any user text so fragments that happen to
	// contain the token are left alone.
	content := strings.Replace(skeleton, AppNameToken, id, 1)
	content = placeholder.Substitute(content, map[string]string{
		markerInputTemplate:    input.Content,
		markerOutputTemplate:   output.Content,
		markerInputStreamName:  inputStream,
		markerLogic:            logic,
		markerMapping:          RenderMapping(mappings),
		markerOutputStreamName: outputStream,
	})

	return Artifact{Type: catalog.TypeSiddhiApp, Content: content}, nil
}

// ComposeLogic substitutes the filterRules fragments into the numbered
// markers of the first ruleLogic fragment.
func ComposeLogic(components map[string][]string) (string, error) {
	logic := components[ComponentRuleLogic]
	if len(logic) == 0 {
		return "", fmt.Errorf("%w: no %s fragment", ErrComposition, ComponentRuleLogic)
	}

	out := placeholder.SubstitutePositional(logic[0], components[ComponentFilterRules])
	if missing := placeholder.UnresolvedPositional(out); len(missing) > 0 {
		return "", fmt.Errorf("%w: rule logic references undefined filter rules %s",
			ErrComposition, strings.Join(missing, ", "))
	}
	return out, nil
}

// RenderMapping renders mappings as a select-clause projection list.
func RenderMapping(mappings *orderedmap.OrderedMap[string, string]) string {
	if mappings == nil {
		return ""
	}

	var b strings.Builder
	for pair := mappings.Oldest(); pair != nil; pair = pair.Next() {
		b.WriteString(pair.Value)
		b.WriteString(" as ")
		b.WriteString(pair.Key)
		b.WriteString(", ")
	}
	return strings.TrimSuffix(b.String(), ", ")
}
