package plagiarism

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	schemaTopComparisons = "topComparisons.schema.json"
	schemaMappings       = "submissionMappings.schema.json"
	schemaRunInformation = "runInformation.schema.json"
	schemaFileIndex      = "submissionFileIndex.schema.json"
	schemaDistribution   = "distribution.schema.json"
	schemaCluster        = "cluster.schema.json"
	schemaComparison     = "comparison.schema.json"
)

// schemaSet holds the compiled schema of every archive document the parser understands.
// Schemas list required fields only, so fields added by newer tool versions pass.
type schemaSet struct {
	schemas map[string]*jsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", entry.Name(), err)
		}
	}

	set := &schemaSet{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, entry := range entries {
		schema, err := compiler.Compile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", entry.Name(), err)
		}
		set.schemas[entry.Name()] = schema
	}
	return set, nil
}

// decode validates raw against the named schema and then unmarshals it into v
func (s *schemaSet) decode(name string, raw []byte, v any) error {
	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}

	var instance any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}
