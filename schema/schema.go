// Package schema derives the JSON Schema of the feed response from the Go types
// and keeps it for the lifetime of the process.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"smartcommunity/models"
)

// FileName is the name of the schema artifact written to the schema directory
const FileName = "feed.schema.json"

// Publisher holds the derived feed schema
type Publisher struct {
	schema *jsonschema.Schema
	bytes  []byte
}

// New reflects the schema of models.Feed. Objects reject unknown properties
// and every field that is not optional is required.
func New() (*Publisher, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}

	s := reflector.Reflect(&models.Feed{})
	if s == nil {
		return nil, fmt.Errorf("failed to reflect feed schema")
	}
	s.Title = "Feed"

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed schema: %w", err)
	}

	return &Publisher{schema: s, bytes: data}, nil
}

// Bytes returns the cached schema document
func (p *Publisher) Bytes() []byte {
	return p.bytes
}

// WriteFile writes the schema artifact into dir and returns its path
func (p *Publisher) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create schema directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, p.bytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to write schema: %w", err)
	}

	return path, nil
}
