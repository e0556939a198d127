// Package payloadschema validates extraction-service responses against
// the embedded JSON schema before anything downstream trusts them.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed extraction_result.schema.json
var extractionResultSchemaJSON string

// HotTake is one contrarian or notable opinion pulled from the content.
type HotTake struct {
	Take    string `json:"take"`
	Context string `json:"context,omitempty"`
}

// Entities groups the named entities the extraction recognized.
type Entities struct {
	People       []string `json:"people,omitempty"`
	Companies    []string `json:"companies,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// ExtractionResult is the structured payload the extraction service
// returns for one content item.
type ExtractionResult struct {
	Summary        string    `json:"summary"`
	KeyInformation []string  `json:"key_information,omitempty"`
	Themes         []string  `json:"themes,omitempty"`
	HotTakes       []HotTake `json:"hot_takes,omitempty"`
	Entities       *Entities `json:"entities,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateExtractionResult checks a raw extraction payload against the
// schema and decodes it. Schema validation catches shape problems; the
// semantic pass catches values the schema cannot express.
func ValidateExtractionResult(payload json.RawMessage) (*ExtractionResult, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var result ExtractionResult
	if err := json.Unmarshal(normalized, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("extraction_result.schema.json", strings.NewReader(extractionResultSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("extraction_result.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(result *ExtractionResult) error {
	if result == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(result.Summary) == "" {
		return fmt.Errorf("summary must not be empty")
	}

	for i, note := range result.KeyInformation {
		if strings.TrimSpace(note) == "" {
			return fmt.Errorf("key_information[%d] must not be empty", i)
		}
	}
	for i, theme := range result.Themes {
		if strings.TrimSpace(theme) == "" {
			return fmt.Errorf("themes[%d] must not be empty", i)
		}
	}
	for i, take := range result.HotTakes {
		if strings.TrimSpace(take.Take) == "" {
			return fmt.Errorf("hot_takes[%d].take must not be empty", i)
		}
	}

	return nil
}
