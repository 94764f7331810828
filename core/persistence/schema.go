package persistence

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	saveSchemaURL   = "https://ema-tales.local/schema/save.schema.json"
	legacySchemaURL = "https://ema-tales.local/schema/legacy.schema.json"
)

var (
	//go:embed schema/save.schema.json
	saveSchemaSource []byte
	//go:embed schema/legacy.schema.json
	legacySchemaSource []byte
)

type compiledSchemas struct {
	save   *jsonschema.Schema
	legacy *jsonschema.Schema
}

var loadSchemas = sync.OnceValues(func() (compiledSchemas, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(saveSchemaURL, bytes.NewReader(saveSchemaSource)); err != nil {
		return compiledSchemas{}, fmt.Errorf("add save schema resource: %w", err)
	}
	if err := compiler.AddResource(legacySchemaURL, bytes.NewReader(legacySchemaSource)); err != nil {
		return compiledSchemas{}, fmt.Errorf("add legacy schema resource: %w", err)
	}

	save, err := compiler.Compile(saveSchemaURL)
	if err != nil {
		return compiledSchemas{}, fmt.Errorf("compile save schema: %w", err)
	}
	legacy, err := compiler.Compile(legacySchemaURL)
	if err != nil {
		return compiledSchemas{}, fmt.Errorf("compile legacy schema: %w", err)
	}
	return compiledSchemas{save: save, legacy: legacy}, nil
})
