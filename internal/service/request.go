package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// ExportRequest is the call data of ha_snapshot.export_data.
type ExportRequest struct {
	Filename string `json:"filename"`
	Notify   bool   `json:"notify"`
}

// ImportRequest is the call data of ha_snapshot.import_data. Exactly one
// of ImportJSON and ObjectKey is set.
type ImportRequest struct {
	ImportJSON string `json:"import_json"`
	ObjectKey  string `json:"object_key"`
	Notify     bool   `json:"notify"`
	DryRun     bool   `json:"dry_run"`
}

// decode converts loosely typed call data into a request. Unknown keys
// are rejected so a misspelt option is not silently ignored.
func decode(data map[string]any, out any) error {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encoding call data: %w", snapshot.ErrConfiguration, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid call data: %w", snapshot.ErrConfiguration, err)
	}
	return nil
}

// DecodeExport builds an ExportRequest from call data.
func DecodeExport(data map[string]any) (ExportRequest, error) {
	var req ExportRequest
	err := decode(data, &req)
	return req, err
}

// DecodeImport builds an ImportRequest from call data. An import_json
// given as an object or array instead of text is accepted as-is.
func DecodeImport(data map[string]any) (ImportRequest, error) {
	if v, ok := data["import_json"]; ok && v != nil {
		if _, isText := v.(string); !isText {
			raw, err := json.Marshal(v)
			if err != nil {
				return ImportRequest{}, fmt.Errorf("%w: encoding import_json: %w", snapshot.ErrConfiguration, err)
			}
			data = cloneMap(data)
			data["import_json"] = string(raw)
		}
	}
	var req ImportRequest
	err := decode(data, &req)
	return req, err
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
