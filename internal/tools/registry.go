package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/weft-run/weft/pkg/schema"
)

// Registry is a thread-safe tool catalog. Tools register once at wiring
// time; the engine and the MCP surface resolve them by name at run time.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// ToolInfo is a summary of a registered tool for listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry. Registering a nil tool, an empty
// name, or a name that is already taken is a conflict.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "cannot register nil tool")
	}
	name := t.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "cannot register tool with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q is already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns summaries of all registered tools, sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, ToolInfo{
			Name:        t.Name(),
			Description: t.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke resolves a tool by name, validates the input against the tool's
// declared schema if it has one, and executes it.
func (r *Registry) Invoke(ctx context.Context, name string, input any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not found", name)
	}
	if err := r.ValidateInput(name, input); err != nil {
		return nil, err
	}
	return t.Execute(ctx, input)
}

// ValidateInput checks an input document against the named tool's input
// schema. Tools without an input schema accept anything.
func (r *Registry) ValidateInput(name string, input any) error {
	t, ok := r.Get(name)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not found", name)
	}
	raw := t.Schema().Input
	if len(raw) == 0 {
		return nil
	}

	compiled, err := r.getOrCompile(name, raw)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q declares an invalid input schema", name).WithCause(err)
	}

	// Round-trip through JSON so numbers become json.Number, which the
	// jsonschema library requires.
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: failed to serialize input", name).WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toInputError(name, err)
	}
	return nil
}

// getOrCompile returns the cached compiled input schema for a tool, or
// compiles and caches it on first use.
func (r *Registry) getOrCompile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	r.mu.RLock()
	if cached, ok := r.compiled[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := r.compiled[name]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("weft://tools/%s/input", name)
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	r.compiled[name] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding so numeric
// values become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toInputError converts a jsonschema validation failure into a typed
// error listing the individual violations.
func toInputError(name string, err error) *schema.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool %q: invalid input: %s", name, err.Error())
	}
	violations := collectViolations(verr)
	return schema.NewErrorf(schema.ErrCodeValidation,
		"tool %q: input failed schema validation", name).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
