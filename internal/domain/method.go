package domain

import (
	"context"
	"fmt"

	apperrors "github.com/shhac/switchboard/internal/errors"
)

// TypeRef is an opaque reference to a type owned by the type system.
// The dispatch core only counts and carries these; collaborators interpret them.
type TypeRef string

// Well-known type references understood by the bundled collaborators.
const (
	String   TypeRef = "string"
	Integer  TypeRef = "integer"
	Float    TypeRef = "float"
	Boolean  TypeRef = "boolean"
	DateTime TypeRef = "datetime"
	Bytes    TypeRef = "bytes"
	Any      TypeRef = "any"
)

// InvocationMode describes how a caller expects the method to be invoked.
type InvocationMode int

const (
	ModeNormal   InvocationMode = iota
	ModeAsync                   // one-way, fire and forget
	ModeCallback                // reply delivered through a callback channel
)

// String returns a human-readable representation of the mode
func (m InvocationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeAsync:
		return "async"
	case ModeCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Handler is the callable bound to a method. It receives positional decoded
// arguments and returns one value per declared output.
type Handler func(ctx context.Context, args []any) ([]any, error)

// Param is a positional input: the handler-side name and its type.
type Param struct {
	Name string
	Type TypeRef
}

// Method is the immutable descriptor of one remote procedure.
type Method struct {
	name        string
	namespace   string
	inputs      []Param
	outputs     []TypeRef
	inputNames  map[string]string
	outputName  string
	outputNames []string
	mode        InvocationMode
	handler     Handler
}

// MethodOption configures a Method at construction time.
type MethodOption func(*Method)

// WithInputs declares the positional inputs.
func WithInputs(params ...Param) MethodOption {
	return func(m *Method) {
		m.inputs = append(m.inputs, params...)
	}
}

// WithReturns declares the output types. More than one output makes the
// response a composite message.
func WithReturns(types ...TypeRef) MethodOption {
	return func(m *Method) {
		m.outputs = append(m.outputs, types...)
	}
}

// WithInputNames maps handler-side input names to wire-visible names, for
// names that collide with reserved words of a wire format.
func WithInputNames(names map[string]string) MethodOption {
	return func(m *Method) {
		if m.inputNames == nil {
			m.inputNames = make(map[string]string, len(names))
		}
		for k, v := range names {
			m.inputNames[k] = v
		}
	}
}

// WithOutputName sets the wire name of the output. For composite returns it
// is the prefix of the positional field names.
func WithOutputName(name string) MethodOption {
	return func(m *Method) {
		m.outputName = name
	}
}

// WithOutputNames sets explicit wire names for each composite field.
func WithOutputNames(names ...string) MethodOption {
	return func(m *Method) {
		m.outputNames = append([]string(nil), names...)
	}
}

// WithMode sets the invocation mode.
func WithMode(mode InvocationMode) MethodOption {
	return func(m *Method) {
		m.mode = mode
	}
}

// WithNamespace overrides the owning service's namespace for this method.
func WithNamespace(ns string) MethodOption {
	return func(m *Method) {
		m.namespace = ns
	}
}

// NewMethod builds a method descriptor and validates its metadata.
func NewMethod(name string, handler Handler, opts ...MethodOption) (*Method, error) {
	m := &Method{name: name, handler: handler}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustMethod is NewMethod for static declarations; it panics on error.
func MustMethod(name string, handler Handler, opts ...MethodOption) *Method {
	m, err := NewMethod(name, handler, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Method) validate() error {
	if m.name == "" {
		return apperrors.ValidationError{Field: "method.name", Message: "method name is required"}
	}
	if m.handler == nil {
		return apperrors.ValidationError{Field: "method.handler", Message: fmt.Sprintf("method %q has no handler", m.name)}
	}
	if m.mode == ModeAsync && len(m.outputs) > 0 {
		return apperrors.ValidationError{Field: "method.returns", Message: fmt.Sprintf("async method %q cannot declare outputs", m.name)}
	}
	if len(m.outputNames) > 0 && len(m.outputNames) != len(m.outputs) {
		return apperrors.ValidationError{
			Field:   "method.output_names",
			Message: fmt.Sprintf("method %q declares %d output names for %d outputs", m.name, len(m.outputNames), len(m.outputs)),
		}
	}
	outNames := make(map[string]bool, len(m.outputNames))
	for _, n := range m.outputNames {
		if n == "" {
			return apperrors.ValidationError{Field: "method.output_names", Message: fmt.Sprintf("method %q has an unnamed output", m.name)}
		}
		if outNames[n] {
			return apperrors.ValidationError{Field: "method.output_names", Message: fmt.Sprintf("method %q has duplicate output name %q", m.name, n)}
		}
		outNames[n] = true
	}

	declared := make(map[string]bool, len(m.inputs))
	for _, p := range m.inputs {
		if p.Name == "" {
			return apperrors.ValidationError{Field: "method.inputs", Message: fmt.Sprintf("method %q has an unnamed input", m.name)}
		}
		if declared[p.Name] {
			return apperrors.ValidationError{Field: "method.inputs", Message: fmt.Sprintf("method %q declares input %q twice", m.name, p.Name)}
		}
		declared[p.Name] = true
	}
	for from := range m.inputNames {
		if !declared[from] {
			return apperrors.ValidationError{Field: "method.input_names", Message: fmt.Sprintf("method %q renames unknown input %q", m.name, from)}
		}
	}

	wire := make(map[string]bool, len(m.inputs))
	for i := range m.inputs {
		n := m.InputWireName(i)
		if wire[n] {
			return apperrors.ValidationError{Field: "method.input_names", Message: fmt.Sprintf("method %q has duplicate wire name %q", m.name, n)}
		}
		wire[n] = true
	}
	return nil
}

// Name returns the method name.
func (m *Method) Name() string { return m.name }

// Namespace returns the per-method namespace override, possibly empty.
func (m *Method) Namespace() string { return m.namespace }

// Mode returns the invocation mode.
func (m *Method) Mode() InvocationMode { return m.mode }

// Handler returns the bound handler.
func (m *Method) Handler() Handler { return m.handler }

// Inputs returns a copy of the positional inputs.
func (m *Method) Inputs() []Param {
	return append([]Param(nil), m.inputs...)
}

// Outputs returns a copy of the output types.
func (m *Method) Outputs() []TypeRef {
	return append([]TypeRef(nil), m.outputs...)
}

// InputArity is the number of declared inputs.
func (m *Method) InputArity() int { return len(m.inputs) }

// OutputArity is the number of declared outputs.
func (m *Method) OutputArity() int { return len(m.outputs) }

// IsComposite reports whether responses are wrapped in a composite message.
func (m *Method) IsComposite() bool { return len(m.outputs) > 1 }

// InputWireName returns the wire-visible name of input i.
func (m *Method) InputWireName(i int) string {
	name := m.inputs[i].Name
	if alias, ok := m.inputNames[name]; ok {
		return alias
	}
	return name
}

// InputWireNames returns the wire-visible names of all inputs in order.
func (m *Method) InputWireNames() []string {
	names := make([]string, len(m.inputs))
	for i := range m.inputs {
		names[i] = m.InputWireName(i)
	}
	return names
}

// OutputName returns the declared output name override, possibly empty.
func (m *Method) OutputName() string { return m.outputName }

// OutputNames returns the explicit per-position output names, possibly nil.
func (m *Method) OutputNames() []string {
	return append([]string(nil), m.outputNames...)
}
