package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaViolation is one failed constraint of the persisted graph schema.
type SchemaViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

var (
	graphSchemaOnce sync.Once
	graphSchema     *jsonschema.Schema
	graphSchemaErr  error
)

func compiledGraphSchema() (*jsonschema.Schema, error) {
	graphSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("graph.json", strings.NewReader(graphSchemaJSON)); err != nil {
			graphSchemaErr = fmt.Errorf("add graph schema: %w", err)
			return
		}
		graphSchema, graphSchemaErr = compiler.Compile("graph.json")
		if graphSchemaErr != nil {
			graphSchemaErr = fmt.Errorf("compile graph schema: %w", graphSchemaErr)
		}
	})
	return graphSchema, graphSchemaErr
}

// CheckGraphSchema validates raw persisted graph JSON against the graph
// schema. Malformed JSON is reported as a violation at "$".
func CheckGraphSchema(data []byte) []SchemaViolation {
	schema, err := compiledGraphSchema()
	if err != nil {
		return []SchemaViolation{{Path: "$", Message: err.Error()}}
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return []SchemaViolation{{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []SchemaViolation{{Path: "$", Message: err.Error()}}
	}

	violations := collectViolations(verr, nil)
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Message < violations[j].Message
	})
	return violations
}

// collectViolations keeps leaf causes only; inner nodes repeat their children.
func collectViolations(verr *jsonschema.ValidationError, out []SchemaViolation) []SchemaViolation {
	if len(verr.Causes) == 0 {
		path := verr.InstanceLocation
		if path == "" {
			path = "$"
		}
		return append(out, SchemaViolation{Path: path, Message: verr.Message})
	}
	for _, cause := range verr.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "graph.json",
  "title": "Workflow Graph",
  "type": "object",
  "required": ["nodes", "edges", "entry_point", "exit_points", "graph_id", "version"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {"type": "string", "minLength": 1, "not": {"enum": ["start", "end"]}},
      "uniqueItems": true
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from_node", "to_node", "condition_type", "edge_id", "weight"],
        "properties": {
          "from_node": {"type": "string", "minLength": 1},
          "to_node": {"type": "string", "minLength": 1},
          "condition_type": {"enum": ["always", "success", "failure", "custom"]},
          "condition": {"type": "string"},
          "edge_id": {"type": "string", "minLength": 1},
          "weight": {"type": "number"}
        },
        "additionalProperties": false
      }
    },
    "entry_point": {"type": "string"},
    "exit_points": {"type": "array", "items": {"type": "string"}},
    "graph_id": {"type": "string"},
    "version": {"type": ["string", "integer"]}
  },
  "additionalProperties": false
}`
