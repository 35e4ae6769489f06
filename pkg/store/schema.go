package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed state.schema.json
var stateSchemaJSON []byte

const stateSchemaRef = "picorelay://state.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func stateSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(stateSchemaRef, bytes.NewReader(stateSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(stateSchemaRef)
	})
	return schema, schemaErr
}

// decodeState validates a persisted document and decodes it.
func decodeState(data []byte) (*State, error) {
	sch, err := stateSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling state schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("state failed validation: %w", err)
	}

	// A document without "enabled" predates the switch and relays.
	st := State{Enabled: true}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	for key, rule := range st.Rules {
		if rule.SourceID != key {
			return nil, fmt.Errorf("state failed validation: rule key %q holds source %q", key, rule.SourceID)
		}
	}
	return &st, nil
}

func encodeState(st *State) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}
