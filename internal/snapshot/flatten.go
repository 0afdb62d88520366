package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Record is one entity found in an import document.
type Record struct {
	EntityID string

	// NameSet is false when the object had no "name" key.
	NameSet bool
	Name    *string

	// LabelsSet is false when the object had no "labels" key.
	LabelsSet bool
	Labels    []string

	// Invalid explains why the record cannot be applied.
	Invalid string
}

// Parse decodes raw import JSON and flattens it into entity records.
func Parse(raw []byte) ([]Record, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrParse)
	}
	return Flatten(doc), nil
}

// Flatten walks a decoded JSON value and returns every object carrying a
// string entity_id, at any depth. Object keys are visited in sorted order
// so the result is stable.
func Flatten(v any) []Record {
	var out []Record
	flatten(v, &out)
	return out
}

func flatten(v any, out *[]Record) {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := t["entity_id"].(string); ok {
			*out = append(*out, recordOf(id, t))
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			flatten(t[k], out)
		}
	case []any:
		for _, item := range t {
			flatten(item, out)
		}
	}
}

func recordOf(id string, obj map[string]any) Record {
	r := Record{EntityID: id}

	if v, ok := obj["name"]; ok {
		r.NameSet = true
		switch name := v.(type) {
		case nil:
		case string:
			r.Name = &name
		default:
			r.Invalid = fmt.Sprintf("name must be a string or null, got %T", v)
			return r
		}
	}

	if v, ok := obj["labels"]; ok {
		r.LabelsSet = true
		switch labels := v.(type) {
		case nil:
			r.Labels = []string{}
		case []any:
			r.Labels = make([]string, 0, len(labels))
			for _, l := range labels {
				s, isString := l.(string)
				if !isString {
					r.Invalid = fmt.Sprintf("labels must be strings, got %T", l)
					return r
				}
				r.Labels = append(r.Labels, s)
			}
		default:
			r.Invalid = fmt.Sprintf("labels must be a list, got %T", v)
		}
	}
	return r
}
