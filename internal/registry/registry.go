// Package registry aggregates service definitions into a namespace-qualified
// method map.
//
// A Registry is built once through a Builder and is read-only afterwards, so
// any number of concurrent dispatches may resolve against it without locking.
package registry

import (
	"log/slog"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
)

// Candidate is one (service, method) pair registered under a key.
type Candidate struct {
	Service *domain.Service
	Method  *domain.Method
}

// IsPrimary reports whether the candidate can be a resolution target.
func (c Candidate) IsPrimary() bool {
	return !c.Service.IsAuxiliary()
}

// Option configures a Builder.
type Option func(*Builder)

// WithFanout allows several primary services to serve the same key.
func WithFanout(enabled bool) Option {
	return func(b *Builder) {
		b.fanout = enabled
	}
}

// WithNamespace sets the target namespace used by services and methods that
// do not declare one.
func WithNamespace(ns string) Option {
	return func(b *Builder) {
		b.namespace = ns
	}
}

// WithLogger sets the logger used during registration.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// Builder collects service definitions and produces an immutable Registry.
// A Builder is not safe for concurrent use.
type Builder struct {
	fanout    bool
	namespace string
	logger    *slog.Logger

	services   []*domain.Service
	candidates map[Key][]Candidate
	order      []Key
	err        error
	built      bool
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		candidates: make(map[Key][]Candidate),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// QualifiedKey derives the key of a method declared by a service under the
// builder's target namespace.
func (b *Builder) QualifiedKey(svc *domain.Service, m *domain.Method) Key {
	return qualifiedKey(b.namespace, svc, m)
}

func qualifiedKey(target string, svc *domain.Service, m *domain.Method) Key {
	ns := m.Namespace()
	if ns == "" {
		ns = svc.Namespace()
	}
	if ns == "" {
		ns = target
	}
	return Key{Namespace: ns, Name: m.Name()}
}

// Register adds every method of svc to the map, in declaration order.
//
// With fanout disabled, a second primary service under an existing key fails
// with a DuplicateMethodError. The builder is then unusable: later Register
// and Build calls return the same error. Registering the same service twice
// is treated as two independent registrations.
func (b *Builder) Register(svc *domain.Service) error {
	if b.err != nil {
		return b.err
	}
	if b.built {
		return apperrors.ValidationError{Field: "registry", Message: "registry already built"}
	}
	if svc == nil {
		return apperrors.ValidationError{Field: "registry.service", Message: "nil service"}
	}

	methods := svc.Methods()

	// Check every key first so a failed registration leaves no partial state.
	if !b.fanout && !svc.IsAuxiliary() {
		for _, m := range methods {
			key := b.QualifiedKey(svc, m)
			for _, c := range b.candidates[key] {
				if c.IsPrimary() {
					b.err = &apperrors.DuplicateMethodError{
						Key:      key.String(),
						Existing: string(c.Service.ID()),
						Incoming: string(svc.ID()),
					}
					b.logger.Error("duplicate method",
						slog.String("key", key.String()),
						slog.String("existing", string(c.Service.ID())),
						slog.String("incoming", string(svc.ID())),
					)
					return b.err
				}
			}
		}
	}

	for _, m := range methods {
		key := b.QualifiedKey(svc, m)
		if _, seen := b.candidates[key]; !seen {
			b.order = append(b.order, key)
		}
		b.candidates[key] = append(b.candidates[key], Candidate{Service: svc, Method: m})
	}
	b.services = append(b.services, svc)

	b.logger.Debug("registered service",
		slog.String("service", string(svc.ID())),
		slog.String("role", svc.Role()),
		slog.Int("methods", len(methods)),
	)
	return nil
}

// Build freezes the registered services into a Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.built = true

	r := &Registry{
		fanout:     b.fanout,
		namespace:  b.namespace,
		services:   append([]*domain.Service(nil), b.services...),
		candidates: make(map[Key][]Candidate, len(b.candidates)),
	}

	for _, key := range b.order {
		cands := append([]Candidate(nil), b.candidates[key]...)
		r.candidates[key] = cands
		r.all = append(r.all, key)

		primaries := 0
		for _, c := range cands {
			if c.IsPrimary() {
				primaries++
			}
		}
		if primaries == 0 {
			b.logger.Warn("auxiliary method has no primary and will never run",
				slog.String("key", key.String()),
			)
			continue
		}
		r.keys = append(r.keys, key)
	}

	b.logger.Info("registry built",
		slog.Int("services", len(r.services)),
		slog.Int("operations", len(r.keys)),
		slog.Bool("fanout", r.fanout),
	)
	return r, nil
}

// New registers services in order and builds the registry.
func New(services []*domain.Service, opts ...Option) (*Registry, error) {
	b := NewBuilder(opts...)
	for _, svc := range services {
		if err := b.Register(svc); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// Registry is the immutable, namespace-qualified method map.
type Registry struct {
	fanout     bool
	namespace  string
	services   []*domain.Service
	candidates map[Key][]Candidate
	keys       []Key // keys with at least one primary, first-registration order
	all        []Key
}

// Resolve returns the ordered candidates for a key, or nil if unknown.
// The returned slice is a copy.
func (r *Registry) Resolve(namespace, name string) []Candidate {
	return r.Lookup(Key{Namespace: namespace, Name: name})
}

// Lookup is Resolve for an already-built key.
func (r *Registry) Lookup(key Key) []Candidate {
	cands, ok := r.candidates[key]
	if !ok {
		return nil
	}
	return append([]Candidate(nil), cands...)
}

// Primaries returns the primary candidates of a key in registration order.
func (r *Registry) Primaries(key Key) []Candidate {
	var out []Candidate
	for _, c := range r.candidates[key] {
		if c.IsPrimary() {
			out = append(out, c)
		}
	}
	return out
}

// Auxiliaries returns the auxiliary candidates of a key in registration order.
func (r *Registry) Auxiliaries(key Key) []Candidate {
	var out []Candidate
	for _, c := range r.candidates[key] {
		if !c.IsPrimary() {
			out = append(out, c)
		}
	}
	return out
}

// Keys returns the advertised keys: those with at least one primary.
func (r *Registry) Keys() []Key {
	return append([]Key(nil), r.keys...)
}

// AllKeys returns every registered key, including auxiliary-only ones.
func (r *Registry) AllKeys() []Key {
	return append([]Key(nil), r.all...)
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []*domain.Service {
	return append([]*domain.Service(nil), r.services...)
}

// Fanout reports whether several primaries may serve one key.
func (r *Registry) Fanout() bool { return r.fanout }

// Namespace returns the target namespace.
func (r *Registry) Namespace() string { return r.namespace }

// QualifiedKey derives the key of a method declared by a service.
func (r *Registry) QualifiedKey(svc *domain.Service, m *domain.Method) Key {
	return qualifiedKey(r.namespace, svc, m)
}
