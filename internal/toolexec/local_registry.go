package toolexec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// LocalRegistry is an in-process Registry of tool handlers, keyed by name,
// with an optional compiled output schema per tool.
type LocalRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewLocalRegistry constructs an empty LocalRegistry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register binds name to handler. If outputSchemaJSON is non-empty, it is
// compiled and stored so every invocation of name is validated against it.
func (r *LocalRegistry) Register(name string, handler Handler, outputSchemaJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(outputSchemaJSON) > 0 {
		schema, err := compileSchema(name, outputSchemaJSON)
		if err != nil {
			return err
		}
		r.schemas[name] = schema
	}
	r.handlers[name] = handler
	return nil
}

func (r *LocalRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *LocalRegistry) OutputSchema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

func compileSchema(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("toolexec: unmarshal schema for %s: %w", name, err)
	}
	resource := "toolexec/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, fmt.Errorf("toolexec: add schema resource for %s: %w", name, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("toolexec: compile schema for %s: %w", name, err)
	}
	return schema, nil
}

var _ Registry = (*LocalRegistry)(nil)
