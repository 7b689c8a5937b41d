package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var schemaJSON string

const schemaURL = "config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateSchema checks the resolved configuration against the embedded JSON schema.
func ValidateSchema(c *Config) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("%w: compile schema: %v", ErrInvalidConfig, err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrInvalidConfig, err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
