package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// summarySchema is the shape every Summary and translated Summary must have.
var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"keyClauses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":  map[string]any{"type": "string"},
					"detail": map[string]any{"type": "string"},
					"status": map[string]any{"type": "string"},
					"alert":  map[string]any{"type": "boolean"},
				},
				"required": []string{"title", "detail", "status", "alert"},
			},
		},
	},
	"required": []string{"summary", "keyClauses"},
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func summaryValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(summarySchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("summary.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("summary.json")
	})
	return compiledSchema, compileErr
}

// validateSummaryJSON checks data against the summary schema.
func validateSummaryJSON(data []byte) error {
	schema, err := summaryValidator()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

var (
	jsonFence = regexp.MustCompile("(?i)```json")
	anyFence  = regexp.MustCompile("```")
)

// stripFences removes markdown code fence markers around a model reply.
func stripFences(s string) string {
	s = jsonFence.ReplaceAllString(s, "")
	s = anyFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
