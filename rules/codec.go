package rules

import (
	"encoding/json"
	"fmt"
)

// templateDocument and scratchDocument are the serialized forms: a flat
// object with the variant tag next to the variant's fields.
type templateDocument struct {
	Type string `json:"type"`
	*TemplateDefinition
}

type scratchDocument struct {
	Type string `json:"type"`
	*ScratchDefinition
}

// MarshalJSON encodes d as {id, name, templateGroupId, type, ...variant fields}.
func (d Definition) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case TypeTemplate:
		if d.Template == nil {
			return nil, fmt.Errorf("%w: template definition is missing", ErrInvalidDefinition)
		}
		return json.Marshal(templateDocument{Type: TypeTemplate, TemplateDefinition: d.Template})
	case TypeScratch:
		if d.Scratch == nil {
			return nil, fmt.Errorf("%w: scratch definition is missing", ErrInvalidDefinition)
		}
		return json.Marshal(scratchDocument{Type: TypeScratch, ScratchDefinition: d.Scratch})
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, d.Type)
	}
}

// UnmarshalJSON decodes a document produced by MarshalJSON.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	switch tag.Type {
	case TypeTemplate:
		var t TemplateDefinition
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		*d = FromTemplate(t)
	case TypeScratch:
		var s ScratchDefinition
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		*d = FromScratch(s)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, tag.Type)
	}
	return nil
}

// EncodeDefinition serializes d for the definition store.
func EncodeDefinition(d Definition) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDefinition parses bytes read from the definition store.
func DecodeDefinition(data []byte) (Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return Definition{}, err
	}
	return d, nil
}
