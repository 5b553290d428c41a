package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ashwin/sia/pkg/agent"
)

// Registry holds tool definitions with their compiled argument schemas.
type Registry struct {
	defs    map[string]Definition
	order   []string
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		defs:    make(map[string]Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool and compiles its argument schema.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", def.Name, err)
	}

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Catalog returns the tool schemas advertised to the model, in registration
// order. Unavailable tools stay in the catalog; invoking one yields its
// unavailability message instead of an execution.
func (r *Registry) Catalog() []agent.ToolSchema {
	catalog := make([]agent.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		catalog = append(catalog, agent.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return catalog
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Execute validates rawArgs and runs the named tool. Validation and
// execution failures come back as errors; unavailability is a successful
// result carrying the tool's unavailability message.
//
// Arguments are validated before availability is checked, so a malformed
// call reports the argument error even when the tool is unavailable.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (string, error) {
	def, ok := r.defs[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	args, err := parseArguments(rawArgs, singleRequiredString(def))
	if err != nil {
		return "", invalidArgumentsError(def)
	}

	result, err := r.schemas[name].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return "", fmt.Errorf("argument validation failed for tool %s: %w", name, err)
	}
	if !result.Valid() {
		return "", invalidArgumentsError(def)
	}

	if def.Available != nil && !def.Available() {
		r.logger.Warn().Str("tool", name).Msg("Tool invoked while unavailable")
		return def.UnavailableMessage, nil
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return def.Handler(execCtx, args)
}

// inputSchema renders a definition's parameters as a JSON schema object.
func inputSchema(def Definition) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}

	for name, param := range def.Parameters {
		properties[name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// singleRequiredString returns the parameter name when the tool takes
// exactly one required string argument, enabling the lenient parse fallback.
func singleRequiredString(def Definition) string {
	name := ""
	for pname, param := range def.Parameters {
		if !param.Required {
			continue
		}
		if param.Type != "string" || name != "" {
			return ""
		}
		name = pname
	}
	return name
}

func invalidArgumentsError(def Definition) error {
	if field := singleRequiredString(def); field != "" {
		return fmt.Errorf("%s was called without a valid { %s: string } argument", def.Name, field)
	}

	fields := make([]string, 0, len(def.Parameters))
	for pname := range def.Parameters {
		fields = append(fields, pname)
	}
	return fmt.Errorf("%s was called with arguments that do not match its schema (%s)", def.Name, strings.Join(fields, ", "))
}
