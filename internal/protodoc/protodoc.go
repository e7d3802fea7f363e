// Package protodoc generates an interface document for a registry: one
// protobuf file per namespace, one service per file and one rpc per
// advertised method key.
package protodoc

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"github.com/jhump/protoreflect/desc/protoprint"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/message"
	"github.com/shhac/switchboard/internal/registry"
)

// DefaultServiceName is the proto service name used in every file.
const DefaultServiceName = "Service"

// Operation is one advertised rpc.
type Operation struct {
	Key  registry.Key
	Path string // gRPC method path, "/<package>.<service>/<method>"
	// Method is the first primary's descriptor; fanout candidates share its
	// wire signature.
	Method     *domain.Method
	Streaming  bool
	Descriptor *desc.MethodDescriptor
}

// Document is the generated interface description.
type Document struct {
	files  []*desc.FileDescriptor
	ops    []*Operation
	byPath map[string]*Operation
	byKey  map[registry.Key]*Operation
}

// Option configures Build.
type Option func(*config)

type config struct {
	serviceName string
}

// WithServiceName overrides the proto service name.
func WithServiceName(name string) Option {
	return func(c *config) {
		c.serviceName = name
	}
}

type nsFile struct {
	namespace string
	pkg       string
	fb        *builder.FileBuilder
	sb        *builder.ServiceBuilder
	keys      []registry.Key
}

// Build generates the document for every advertised key of reg.
func Build(reg *registry.Registry, opts ...Option) (*Document, error) {
	cfg := config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(&cfg)
	}

	files := make(map[string]*nsFile)
	pkgOwner := make(map[string]string)
	var order []string

	for _, key := range reg.Keys() {
		f, ok := files[key.Namespace]
		if !ok {
			pkg := packageName(key.Namespace)
			if other, taken := pkgOwner[pkg]; taken {
				return nil, apperrors.ValidationError{
					Field:   "namespace",
					Message: fmt.Sprintf("namespaces %q and %q both map to package %q", other, key.Namespace, pkg),
				}
			}
			pkgOwner[pkg] = key.Namespace
			f = &nsFile{
				namespace: key.Namespace,
				pkg:       pkg,
				fb:        builder.NewFile(strings.ReplaceAll(pkg, ".", "/") + ".proto").SetPackageName(pkg).SetProto3(true),
				sb:        builder.NewService(cfg.serviceName),
			}
			files[key.Namespace] = f
			order = append(order, key.Namespace)
		}

		primaries := reg.Primaries(key)
		if err := checkFanout(key, primaries); err != nil {
			return nil, err
		}
		m := primaries[0].Method

		req, err := requestMessage(m)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", key, err)
		}
		resp, err := responseMessage(m)
		if err != nil {
			return nil, fmt.Errorf("build response for %s: %w", key, err)
		}
		if err := f.fb.TryAddMessage(req); err != nil {
			return nil, fmt.Errorf("add request for %s: %w", key, err)
		}
		if err := f.fb.TryAddMessage(resp); err != nil {
			return nil, fmt.Errorf("add response for %s: %w", key, err)
		}

		streaming := len(primaries) > 1
		mb := builder.NewMethod(m.Name(),
			builder.RpcTypeMessage(req, false),
			builder.RpcTypeMessage(resp, streaming),
		)
		if comment := modeComment(m.Mode(), len(primaries)); comment != "" {
			mb.SetComments(builder.Comments{LeadingComment: comment})
		}
		if err := f.sb.TryAddMethod(mb); err != nil {
			return nil, fmt.Errorf("add rpc for %s: %w", key, err)
		}
		f.keys = append(f.keys, key)
	}

	doc := &Document{
		byPath: make(map[string]*Operation),
		byKey:  make(map[registry.Key]*Operation),
	}
	for _, ns := range order {
		f := files[ns]
		if err := f.fb.TryAddService(f.sb); err != nil {
			return nil, fmt.Errorf("add service for namespace %q: %w", ns, err)
		}
		fd, err := f.fb.Build()
		if err != nil {
			return nil, fmt.Errorf("build document for namespace %q: %w", ns, err)
		}
		doc.files = append(doc.files, fd)

		sd := fd.FindService(f.pkg + "." + cfg.serviceName)
		if sd == nil {
			return nil, fmt.Errorf("service %s.%s missing from built file", f.pkg, cfg.serviceName)
		}
		for _, key := range f.keys {
			md := sd.FindMethodByName(key.Name)
			if md == nil {
				return nil, fmt.Errorf("rpc %s missing from built file", key)
			}
			op := &Operation{
				Key:        key,
				Path:       "/" + sd.GetFullyQualifiedName() + "/" + md.GetName(),
				Method:     reg.Primaries(key)[0].Method,
				Streaming:  md.IsServerStreaming(),
				Descriptor: md,
			}
			doc.ops = append(doc.ops, op)
			doc.byPath[op.Path] = op
			doc.byKey[key] = op
		}
	}

	return doc, nil
}

// Files returns the generated file descriptors, one per namespace.
func (d *Document) Files() []*desc.FileDescriptor {
	return append([]*desc.FileDescriptor(nil), d.files...)
}

// Operations returns the advertised operations in registry key order,
// grouped by namespace.
func (d *Document) Operations() []*Operation {
	return append([]*Operation(nil), d.ops...)
}

// Operation finds an operation by gRPC method path.
func (d *Document) Operation(path string) (*Operation, bool) {
	op, ok := d.byPath[path]
	return op, ok
}

// OperationForKey finds the operation advertised for a key.
func (d *Document) OperationForKey(key registry.Key) (*Operation, bool) {
	op, ok := d.byKey[key]
	return op, ok
}

// Print renders every file as .proto source.
func (d *Document) Print() (string, error) {
	p := &protoprint.Printer{}
	var sb strings.Builder
	for i, fd := range d.files {
		if i > 0 {
			sb.WriteString("\n")
		}
		if err := p.PrintProtoFile(fd, &sb); err != nil {
			return "", fmt.Errorf("print %s: %w", fd.GetName(), err)
		}
	}
	return sb.String(), nil
}

func requestMessage(m *domain.Method) (*builder.MessageBuilder, error) {
	mb := builder.NewMessage(m.Name() + "Request")
	for i, p := range m.Inputs() {
		ft, err := fieldType(p.Type)
		if err != nil {
			return nil, err
		}
		fb := builder.NewField(m.InputWireName(i), ft).SetNumber(int32(i + 1))
		if err := mb.TryAddField(fb); err != nil {
			return nil, err
		}
	}
	return mb, nil
}

func responseMessage(m *domain.Method) (*builder.MessageBuilder, error) {
	mb := builder.NewMessage(m.Name() + "Response")
	names := message.FieldNames(m)
	for i, t := range m.Outputs() {
		ft, err := fieldType(t)
		if err != nil {
			return nil, err
		}
		fb := builder.NewField(names[i], ft).SetNumber(int32(i + 1))
		if err := mb.TryAddField(fb); err != nil {
			return nil, err
		}
	}
	return mb, nil
}

func fieldType(t domain.TypeRef) (*builder.FieldType, error) {
	switch t {
	case domain.String:
		return builder.FieldTypeString(), nil
	case domain.Integer:
		return builder.FieldTypeInt64(), nil
	case domain.Float:
		return builder.FieldTypeDouble(), nil
	case domain.Boolean:
		return builder.FieldTypeBool(), nil
	case domain.Bytes:
		return builder.FieldTypeBytes(), nil
	case domain.DateTime:
		md, err := desc.LoadMessageDescriptor(timestampType)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", timestampType, err)
		}
		return builder.FieldTypeImportedMessage(md), nil
	default:
		md, err := desc.LoadMessageDescriptor(valueType)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", valueType, err)
		}
		return builder.FieldTypeImportedMessage(md), nil
	}
}

// checkFanout requires every primary of a key to share one wire signature,
// since the key is advertised as a single rpc.
func checkFanout(key registry.Key, primaries []registry.Candidate) error {
	first := primaries[0].Method
	for _, c := range primaries[1:] {
		m := c.Method
		if !slices.Equal(first.InputWireNames(), m.InputWireNames()) ||
			!slices.Equal(message.FieldNames(first), message.FieldNames(m)) ||
			!slices.Equal(inputTypes(first), inputTypes(m)) ||
			!slices.Equal(first.Outputs(), m.Outputs()) {
			return fmt.Errorf("%s: %s and %s differ: %w",
				key, primaries[0].Service.ID(), c.Service.ID(), apperrors.ErrIncompatibleFanout)
		}
	}
	return nil
}

func modeComment(mode domain.InvocationMode, primaries int) string {
	var notes []string
	switch mode {
	case domain.ModeAsync:
		notes = append(notes, " async: one-way call, the response carries no values.")
	case domain.ModeCallback:
		notes = append(notes, " callback: the reply is delivered to the caller's callback endpoint.")
	}
	if primaries > 1 {
		notes = append(notes, fmt.Sprintf(" fanout: %d implementations, one response message each.", primaries))
	}
	return strings.Join(notes, "\n")
}

func inputTypes(m *domain.Method) []domain.TypeRef {
	inputs := m.Inputs()
	types := make([]domain.TypeRef, len(inputs))
	for i, p := range inputs {
		types[i] = p.Type
	}
	return types
}

// packageName turns a namespace into a valid proto package name.
func packageName(ns string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '.' || r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return r
		}
		return '_'
	}, ns)

	var segs []string
	for _, seg := range strings.Split(mapped, ".") {
		if seg == "" {
			continue
		}
		if unicode.IsDigit(rune(seg[0])) {
			seg = "_" + seg
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return "switchboard"
	}
	return strings.Join(segs, ".")
}

// Packages lists the proto package of every namespace in the document, sorted.
func (d *Document) Packages() []string {
	var pkgs []string
	for _, fd := range d.files {
		pkgs = append(pkgs, fd.GetPackage())
	}
	sort.Strings(pkgs)
	return pkgs
}
