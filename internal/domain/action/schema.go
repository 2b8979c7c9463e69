// Package action holds the approval-side domain logic: argument schema
// validation and policy matcher evaluation for proposed actions.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FieldType tags the expected JSON shape of one argument field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

// Valid returns true if the field type is one of the defined tags.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldInteger, FieldBoolean, FieldObject, FieldArray:
		return true
	}
	return false
}

// Field describes one argument: its name, expected type and whether it must
// be present.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// Schema is a declarative description of an action's arguments, stored as
// JSON alongside the approval policy and interpreted at proposal time. It is
// deliberately small: a flat field list, no nesting, no codegen.
type Schema struct {
	Fields []Field `json:"fields"`
}

// ParseSchema decodes and sanity-checks a stored schema document. An empty
// document yields a schema that accepts any JSON object.
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return &Schema{}, nil
	}

	var s Schema
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode arg schema: %w", err)
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, errors.New("arg schema field name is required")
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("arg schema field %q has invalid type %q", f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("arg schema field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return &s, nil
}

// Validate checks the proposed args against the schema. Args must be a JSON
// object; required fields must be present and non-null; present fields must
// match their declared type. Fields not named in the schema pass through
// untouched.
func (s *Schema) Validate(args json.RawMessage) error {
	var decoded map[string]any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("args must be a JSON object: %w", err)
	}

	for _, f := range s.Fields {
		value, present := decoded[f.Name]
		if !present || value == nil {
			if f.Required {
				return fmt.Errorf("missing required arg %q", f.Name)
			}
			continue
		}
		if err := checkType(f, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(f Field, value any) error {
	switch f.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return typeMismatch(f, value)
		}
	case FieldNumber:
		if _, ok := value.(float64); !ok {
			return typeMismatch(f, value)
		}
	case FieldInteger:
		n, ok := value.(float64)
		if !ok || n != math.Trunc(n) {
			return typeMismatch(f, value)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return typeMismatch(f, value)
		}
	case FieldObject:
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(f, value)
		}
	case FieldArray:
		if _, ok := value.([]any); !ok {
			return typeMismatch(f, value)
		}
	default:
		return fmt.Errorf("arg schema field %q has invalid type %q", f.Name, f.Type)
	}
	return nil
}

func typeMismatch(f Field, value any) error {
	return fmt.Errorf("arg %q must be a %s, got %T", f.Name, f.Type, value)
}
