package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/agentgraph/types"
	"gopkg.in/yaml.v3"
)

// Format is a template file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension. Unknown extensions
// are treated as YAML, which is a superset of JSON.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// DecodeTemplate parses a workflow template in the given format.
func DecodeTemplate(data []byte, format Format) (*types.WorkflowTemplate, error) {
	var tmpl types.WorkflowTemplate
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template from JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template from YAML: %w", err)
		}
	}
	return &tmpl, nil
}

// EncodeTemplate serializes a template. JSON output is indented.
func EncodeTemplate(tmpl *types.WorkflowTemplate, format Format) ([]byte, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(tmpl, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal template to JSON: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tmpl); err != nil {
		return nil, fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadTemplateFile reads a template from disk, choosing the decoder by extension.
func LoadTemplateFile(path string) (*types.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return DecodeTemplate(data, FormatForPath(path))
}

// SaveTemplateFile writes a template to disk, choosing the encoder by extension.
func SaveTemplateFile(tmpl *types.WorkflowTemplate, path string) error {
	data, err := EncodeTemplate(tmpl, FormatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}
	return nil
}

// DecodeGraphJSON checks data against the graph schema and decodes it.
// Schema violations are returned as a *types.Error with code INVALID_REQUEST.
func DecodeGraphJSON(data []byte) (*types.GraphStructure, error) {
	if violations := CheckGraphSchema(data); len(violations) > 0 {
		msgs := make([]string, 0, len(violations))
		for _, v := range violations {
			msgs = append(msgs, v.Path+": "+v.Message)
		}
		return nil, types.Errorf(types.ErrInvalidRequest, "graph does not match schema: %s", strings.Join(msgs, "; "))
	}

	var raw struct {
		types.GraphStructure
		Version json.RawMessage `json:"version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	gs := raw.GraphStructure
	gs.Version = strings.Trim(string(raw.Version), `"`)
	return &gs, nil
}

// EncodeGraphJSON serializes a graph structure in its persisted shape. Nil
// slices are written as empty arrays.
func EncodeGraphJSON(gs *types.GraphStructure) ([]byte, error) {
	out := *gs
	if out.Nodes == nil {
		out.Nodes = []string{}
	}
	if out.Edges == nil {
		out.Edges = []types.Edge{}
	}
	if out.ExitPoints == nil {
		out.ExitPoints = []string{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return data, nil
}
