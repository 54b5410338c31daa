package karakuri

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolSpec is the specification of a tool.
// It defines the interface and behavior of a tool that the engine can invoke.
type ToolSpec struct {
	// Name is the unique identifier for the tool.
	// It must be unique across all tools registered on one agent.
	Name string

	// Description is a human-readable description of what the tool does.
	Description string

	// Parameters defines the input parameters that the tool accepts.
	Parameters map[string]*Parameter

	// Required is the list of required parameter names.
	Required []string

	// Produces declares the output keys the tool returns. The scheduler uses
	// them to infer data dependencies between operations: an operation whose
	// arguments reference a produced key runs after the producer.
	Produces []string

	// Mutates names external resources the tool writes to (a file path, a
	// table, ...). Two operations mutating the same resource are ordered by
	// their batch position instead of running concurrently.
	Mutates []string
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}

	for _, param := range s.Parameters {
		if err := param.Validate(); err != nil {
			return eb.Wrap(ErrInvalidTool, "invalid parameter")
		}
	}

	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return eb.Wrap(ErrInvalidTool, "required parameter not found", goerr.V("parameter", req))
		}
	}

	return nil
}

// ParameterType is the type of a parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter is a parameter of a tool.
// It defines the specification and constraints of a single input parameter.
type Parameter struct {
	// Title is the user-friendly name of the parameter.
	Title string

	// Type is the type of the parameter.
	// It must be one of the predefined ParameterType values.
	Type ParameterType

	// Description is the description of the parameter.
	Description string

	// Required is the list of required field names when Type is Object.
	Required []string

	// Enum is the list of allowed values for the parameter.
	Enum []string

	// Properties is the properties of the parameter for object types.
	Properties map[string]*Parameter

	// Items is the element specification for array types.
	Items *Parameter

	// Number constraints
	Minimum *float64
	Maximum *float64

	// String constraints
	MinLength *int
	MaxLength *int
	Pattern   string

	// Array constraints
	MinItems *int
	MaxItems *int

	// Default value for the parameter.
	Default any
}

// Validate validates the parameter.
func (p *Parameter) Validate() error {
	eb := goerr.NewBuilder(goerr.V("parameter", p))

	if p.Type == "" {
		return eb.Wrap(ErrInvalidParameter, "type is required")
	}

	if p.Type == TypeObject {
		if p.Properties == nil {
			return eb.Wrap(ErrInvalidParameter, "properties is required for object type")
		}
		for _, prop := range p.Properties {
			if err := prop.Validate(); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid property")
			}
		}
		for _, req := range p.Required {
			if _, ok := p.Properties[req]; !ok {
				return eb.Wrap(ErrInvalidParameter, "required field not found in properties", goerr.V("field", req))
			}
		}
	}

	if p.Type == TypeArray {
		if p.Items == nil {
			return eb.Wrap(ErrInvalidParameter, "items is required for array type")
		}
		if err := p.Items.Validate(); err != nil {
			return eb.Wrap(ErrInvalidParameter, "invalid items")
		}
		if p.MinItems != nil && p.MaxItems != nil && *p.MinItems > *p.MaxItems {
			return eb.Wrap(ErrInvalidParameter, "minItems must be less than or equal to maxItems")
		}
	}

	if p.Type == TypeNumber || p.Type == TypeInteger {
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return eb.Wrap(ErrInvalidParameter, "minimum must be less than or equal to maximum")
		}
	}

	if p.Type == TypeString {
		if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
			return eb.Wrap(ErrInvalidParameter, "minLength must be less than or equal to maxLength")
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid pattern", goerr.V("pattern", p.Pattern))
			}
		}
	}

	return nil
}

// Tool is the specification and execution of an action the engine can invoke
// as one operation. Run receives the operation's arguments and must honor ctx
// cancellation; its error becomes the operation's failure outcome, it does
// not abort the batch.
type Tool interface {
	Spec() ToolSpec
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolSet is a set of tools resolved at registration time, e.g. the tools
// served by one MCP server.
type ToolSet interface {
	Specs(ctx context.Context) ([]ToolSpec, error)
	Run(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type toolWrapper struct {
	spec ToolSpec
	run  func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (x *toolWrapper) Spec() ToolSpec {
	return x.spec
}

func (x *toolWrapper) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return x.run(ctx, args)
}

// toolRegistry is the closed mapping from tool name to invocation capability.
// Names are resolved here when operations are built, so an unknown name fails
// before execution, not in the middle of a batch. Argument schemas are
// compiled once at registration.
type toolRegistry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

func newToolRegistry(ctx context.Context, tools []Tool, toolSets []ToolSet) (*toolRegistry, error) {
	reg := &toolRegistry{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
	}

	for _, tool := range tools {
		if err := reg.add(tool); err != nil {
			return nil, err
		}
	}

	for _, toolSet := range toolSets {
		specs, err := toolSet.Specs(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get tool set specs")
		}

		for _, spec := range specs {
			if err := reg.add(&toolWrapper{
				spec: spec,
				run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
					return toolSet.Run(ctx, spec.Name, args)
				},
			}); err != nil {
				return nil, err
			}
		}
	}

	toolNames := make([]string, 0, len(reg.tools))
	for name := range reg.tools {
		toolNames = append(toolNames, name)
	}
	LoggerFromContext(ctx).Debug("tool registry built", "names", toolNames)

	return reg, nil
}

func (x *toolRegistry) add(tool Tool) error {
	spec := tool.Spec()
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, ok := x.tools[spec.Name]; ok {
		return goerr.Wrap(ErrToolNameConflict, "tool name conflict", goerr.V("tool_name", spec.Name))
	}

	schema, err := compileArgSchema(&spec)
	if err != nil {
		return goerr.Wrap(err, "failed to compile argument schema", goerr.V("tool_name", spec.Name))
	}

	x.tools[spec.Name] = tool
	x.schemas[spec.Name] = schema
	return nil
}

func (x *toolRegistry) find(name string) (Tool, error) {
	tool, ok := x.tools[name]
	if !ok {
		return nil, goerr.Wrap(ErrToolNotFound, "unknown tool", goerr.V("tool_name", name))
	}
	return tool, nil
}

func (x *toolRegistry) specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(x.tools))
	for _, tool := range x.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// validateArgs checks the arguments of one operation against the tool's
// compiled schema. The arguments are round-tripped through JSON so that
// tool-supplied values (ints, structs) normalize to what the validator
// expects.
func (x *toolRegistry) validateArgs(name string, args map[string]any) error {
	schema, ok := x.schemas[name]
	if !ok {
		return goerr.Wrap(ErrToolNotFound, "unknown tool", goerr.V("tool_name", name))
	}
	if schema == nil {
		return nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal arguments", goerr.V("tool_name", name))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return goerr.Wrap(err, "failed to unmarshal arguments", goerr.V("tool_name", name))
	}

	if err := schema.Validate(doc); err != nil {
		return goerr.Wrap(ErrInvalidParameter, "arguments do not match tool schema",
			goerr.V("tool_name", name), goerr.V("cause", err.Error()))
	}
	return nil
}

func compileArgSchema(spec *ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.Parameters) == 0 {
		return nil, nil
	}

	// The compiler wants plain decoded JSON values, so normalize the document
	// through a marshal round trip.
	raw, err := json.Marshal(spec.schemaDoc())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal schema document")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal schema document")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(spec.Name+".json", doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add schema resource")
	}
	schema, err := compiler.Compile(spec.Name + ".json")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile schema")
	}
	return schema, nil
}

// schemaDoc renders the spec as a JSON schema document.
func (s *ToolSpec) schemaDoc() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	for name, param := range s.Parameters {
		properties[name] = param.schemaDoc()
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

func (p *Parameter) schemaDoc() map[string]any {
	doc := map[string]any{
		"type": string(p.Type),
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if p.Title != "" {
		doc["title"] = p.Title
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			enum[i] = v
		}
		doc["enum"] = enum
	}
	if p.Properties != nil {
		properties := make(map[string]any, len(p.Properties))
		for name, prop := range p.Properties {
			properties[name] = prop.schemaDoc()
		}
		doc["properties"] = properties
		if len(p.Required) > 0 {
			doc["required"] = p.Required
		}
	}
	if p.Items != nil {
		doc["items"] = p.Items.schemaDoc()
	}
	if p.Minimum != nil {
		doc["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		doc["maximum"] = *p.Maximum
	}
	if p.MinLength != nil {
		doc["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		doc["maxLength"] = *p.MaxLength
	}
	if p.Pattern != "" {
		doc["pattern"] = p.Pattern
	}
	if p.MinItems != nil {
		doc["minItems"] = *p.MinItems
	}
	if p.MaxItems != nil {
		doc["maxItems"] = *p.MaxItems
	}
	if p.Default != nil {
		doc["default"] = p.Default
	}
	return doc
}

// registryInvoker adapts the tool registry to the scheduler's ToolInvoker.
// Arguments are validated against the tool's schema before the tool runs,
// and results are normalized to plain JSON structures so they can be
// recorded as event content.
type registryInvoker struct {
	registry *toolRegistry
}

func (x *registryInvoker) Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	tool, err := x.registry.find(toolName)
	if err != nil {
		return nil, err
	}
	if err := x.registry.validateArgs(toolName, args); err != nil {
		return nil, err
	}

	LoggerFromContext(ctx).Debug("invoking tool", "tool", toolName, "args", args)

	result, err := tool.Run(ctx, args)
	if err != nil {
		return nil, goerr.Wrap(err, toolName+" failed to run", goerr.V("tool_name", toolName))
	}

	if result != nil {
		marshaled, err := json.Marshal(result)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool result", goerr.V("tool_name", toolName))
		}
		var unmarshaled map[string]any
		if err := json.Unmarshal(marshaled, &unmarshaled); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal tool result", goerr.V("tool_name", toolName))
		}
		result = unmarshaled
	}

	return result, nil
}
