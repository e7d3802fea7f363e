package grpcbridge

import (
	"fmt"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/message"
)

// EncodeArgs builds a request message for m from positional arguments.
func EncodeArgs(md *desc.MessageDescriptor, m *domain.Method, args []any) (*dynamic.Message, error) {
	if len(args) != m.InputArity() {
		return nil, &apperrors.ArityMismatchError{
			Method:    m.Name(),
			Direction: apperrors.DirectionInput,
			Want:      m.InputArity(),
			Got:       len(args),
		}
	}

	msg := dynamic.NewMessage(md)
	for i, p := range m.Inputs() {
		if err := setField(msg, m.InputWireName(i), p.Type, args[i]); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// DecodeArgs extracts positional arguments from a request message.
func DecodeArgs(msg *dynamic.Message, m *domain.Method) ([]any, error) {
	inputs := m.Inputs()
	args := make([]any, len(inputs))
	for i, p := range inputs {
		name := m.InputWireName(i)
		v, err := msg.TryGetFieldByName(name)
		if err != nil {
			return nil, fmt.Errorf("read input %q: %w", name, err)
		}
		if args[i], err = fromWire(p.Type, v); err != nil {
			return nil, fmt.Errorf("read input %q: %w", name, err)
		}
	}
	return args, nil
}

// EncodeReply turns a reply payload into a response message. Composite
// payloads are unwrapped by field name.
func EncodeReply(md *desc.MessageDescriptor, m *domain.Method, payload any) (*dynamic.Message, error) {
	values, err := message.Unpack(payload, m)
	if err != nil {
		return nil, err
	}

	msg := dynamic.NewMessage(md)
	names := message.FieldNames(m)
	for i, t := range m.Outputs() {
		if err := setField(msg, names[i], t, values[i]); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// DecodeReply reads a response message back into a payload: nil, the raw
// value, or a *message.Composite for several outputs.
func DecodeReply(msg *dynamic.Message, m *domain.Method) (any, error) {
	outputs := m.Outputs()
	names := message.FieldNames(m)
	byName := make(map[string]domain.TypeRef, len(names))
	for i, n := range names {
		byName[n] = outputs[i]
	}

	// Walk the fields as the message declares them; the composite matches
	// them to outputs by name.
	var fields []message.Field
	for _, fd := range msg.GetMessageDescriptor().GetFields() {
		t, ok := byName[fd.GetName()]
		if !ok {
			continue
		}
		v, err := fromWire(t, msg.GetField(fd))
		if err != nil {
			return nil, fmt.Errorf("read output %q: %w", fd.GetName(), err)
		}
		fields = append(fields, message.Field{Name: fd.GetName(), Value: v})
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		if len(fields) != 1 {
			return nil, &apperrors.ArityMismatchError{Method: m.Name(), Direction: apperrors.DirectionOutput, Want: 1, Got: len(fields)}
		}
		return fields[0].Value, nil
	default:
		return message.NewComposite(fields...)
	}
}

func setField(msg *dynamic.Message, name string, t domain.TypeRef, v any) error {
	if v == nil {
		return nil
	}
	wire, err := toWire(t, v)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	if err := msg.TrySetFieldByName(name, wire); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

func toWire(t domain.TypeRef, v any) (any, error) {
	switch t {
	case domain.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case domain.Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case domain.Float:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case domain.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case domain.Bytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case domain.DateTime:
		switch ts := v.(type) {
		case time.Time:
			return timestamppb.New(ts), nil
		case *timestamppb.Timestamp:
			return ts, nil
		}
	default:
		return structpb.NewValue(v)
	}
	return nil, fmt.Errorf("cannot encode %T as %s", v, t)
}

func fromWire(t domain.TypeRef, v any) (any, error) {
	if dm, ok := v.(*dynamic.Message); ok {
		if dm == nil {
			return nil, nil
		}
		switch t {
		case domain.DateTime:
			ts := &timestamppb.Timestamp{}
			if err := dm.ConvertTo(ts); err != nil {
				return nil, err
			}
			v = ts
		default:
			val := &structpb.Value{}
			if err := dm.ConvertTo(val); err != nil {
				return nil, err
			}
			v = val
		}
	}

	switch x := v.(type) {
	case *timestamppb.Timestamp:
		if x == nil {
			return nil, nil
		}
		return x.AsTime(), nil
	case *structpb.Value:
		if x == nil {
			return nil, nil
		}
		return x.AsInterface(), nil
	default:
		return v, nil
	}
}
