// Package message packages a method's ordered return values into a single
// composite value for protocol collaborators, and unpacks it again.
//
// Single-output methods bypass wrapping: the raw value is the response.
// Zero-output methods produce a nil payload.
package message

import (
	"fmt"
	"strconv"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
)

// Field is one named value of a composite message.
type Field struct {
	Name  string
	Value any
}

// Composite is an ordered, fixed-arity container of returned values.
type Composite struct {
	fields []Field
	index  map[string]int
}

// NewComposite builds a composite from fields in any order, as a decoder
// would produce them. Field names must be unique.
func NewComposite(fields ...Field) (*Composite, error) {
	c := &Composite{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, dup := c.index[f.Name]; dup {
			return nil, apperrors.ValidationError{
				Field:   "composite." + f.Name,
				Message: "field appears more than once",
			}
		}
		c.index[f.Name] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c, nil
}

// Len returns the number of fields.
func (c *Composite) Len() int { return len(c.fields) }

// Fields returns a copy of the fields in their stored order.
func (c *Composite) Fields() []Field {
	return append([]Field(nil), c.fields...)
}

// Get returns the value of the named field.
func (c *Composite) Get(name string) (any, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.fields[i].Value, true
}

// Names returns the field names in stored order.
func (c *Composite) Names() []string {
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.Name
	}
	return names
}

// FieldNames returns the wire names of the method's outputs, in order.
//
// Explicit per-position names win. Otherwise the base name is the declared
// output name or "<method>Result"; a single output uses the base name and a
// composite appends the position to it.
func FieldNames(m *domain.Method) []string {
	n := m.OutputArity()
	if explicit := m.OutputNames(); len(explicit) == n && n > 0 {
		return explicit
	}

	base := m.OutputName()
	if base == "" {
		base = m.Name() + "Result"
	}
	if n == 1 {
		return []string{base}
	}

	names := make([]string, n)
	for i := range names {
		names[i] = base + strconv.Itoa(i)
	}
	return names
}

// Wrap packs values into a composite whose field order matches the
// method's output order.
func Wrap(values []any, m *domain.Method) (*Composite, error) {
	if len(values) != m.OutputArity() {
		return nil, &apperrors.ArityMismatchError{
			Method:    m.Name(),
			Direction: apperrors.DirectionOutput,
			Want:      m.OutputArity(),
			Got:       len(values),
		}
	}

	names := FieldNames(m)
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = Field{Name: names[i], Value: v}
	}
	return NewComposite(fields...)
}

// Unwrap returns the composite's values in the method's output order.
// Fields are matched by name, so a decoder may have reordered them.
func Unwrap(c *Composite, m *domain.Method) ([]any, error) {
	names := FieldNames(m)
	if c == nil || c.Len() != len(names) {
		got := 0
		if c != nil {
			got = c.Len()
		}
		return nil, &apperrors.ArityMismatchError{
			Method:    m.Name(),
			Direction: apperrors.DirectionOutput,
			Want:      len(names),
			Got:       got,
		}
	}

	values := make([]any, len(names))
	for i, name := range names {
		v, ok := c.Get(name)
		if !ok {
			return nil, fmt.Errorf("composite for %s has no field %q: %w", m.Name(), name, apperrors.ErrArityMismatch)
		}
		values[i] = v
	}
	return values, nil
}

// Pack turns handler return values into a response payload: nil for zero
// outputs, the raw value for one, a *Composite for more.
func Pack(values []any, m *domain.Method) (any, error) {
	switch m.OutputArity() {
	case 0:
		if len(values) != 0 {
			return nil, &apperrors.ArityMismatchError{
				Method:    m.Name(),
				Direction: apperrors.DirectionOutput,
				Want:      0,
				Got:       len(values),
			}
		}
		return nil, nil
	case 1:
		if len(values) != 1 {
			return nil, &apperrors.ArityMismatchError{
				Method:    m.Name(),
				Direction: apperrors.DirectionOutput,
				Want:      1,
				Got:       len(values),
			}
		}
		return values[0], nil
	default:
		return Wrap(values, m)
	}
}

// Unpack is the inverse of Pack.
func Unpack(payload any, m *domain.Method) ([]any, error) {
	switch m.OutputArity() {
	case 0:
		return nil, nil
	case 1:
		return []any{payload}, nil
	default:
		c, ok := payload.(*Composite)
		if !ok {
			return nil, fmt.Errorf("payload for %s is %T, not a composite: %w", m.Name(), payload, apperrors.ErrArityMismatch)
		}
		return Unwrap(c, m)
	}
}
