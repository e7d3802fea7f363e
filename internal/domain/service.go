package domain

import (
	"fmt"

	apperrors "github.com/shhac/switchboard/internal/errors"
)

// ServiceID is an explicit identity token for a service definition.
// Two definitions may expose the same method names; the ID tells them apart.
type ServiceID string

// AuxPolicy controls how an auxiliary service runs next to the primary call.
type AuxPolicy int

const (
	// AuxInline runs the auxiliary handler synchronously before the call returns.
	AuxInline AuxPolicy = iota
	// AuxDetached schedules the auxiliary handler on the worker pool.
	AuxDetached
)

// String returns a human-readable representation of the policy
func (p AuxPolicy) String() string {
	switch p {
	case AuxInline:
		return "inline"
	case AuxDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Service is a named, ordered group of method descriptors.
// It is immutable once constructed.
type Service struct {
	id        ServiceID
	namespace string
	methods   []*Method
	byName    map[string]*Method
	auxiliary bool
	policy    AuxPolicy
}

// ServiceOption configures a Service at construction time.
type ServiceOption func(*Service)

// AsAuxiliary marks the service as auxiliary. Its methods never resolve as
// primary targets; they ride along with the primary method of the same key.
func AsAuxiliary(policy AuxPolicy) ServiceOption {
	return func(s *Service) {
		s.auxiliary = true
		s.policy = policy
	}
}

// NewService builds a service definition. The namespace may be empty, in
// which case the registry's target namespace applies.
func NewService(id ServiceID, namespace string, methods []*Method, opts ...ServiceOption) (*Service, error) {
	if id == "" {
		return nil, apperrors.ValidationError{Field: "service.id", Message: "service id is required"}
	}

	s := &Service{
		id:        id,
		namespace: namespace,
		methods:   make([]*Method, 0, len(methods)),
		byName:    make(map[string]*Method, len(methods)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, m := range methods {
		if m == nil {
			return nil, apperrors.ValidationError{
				Field:   "service.methods",
				Message: fmt.Sprintf("service %s has a nil method", id),
			}
		}
		if _, dup := s.byName[m.Name()]; dup {
			return nil, apperrors.ValidationError{
				Field:   "service.methods",
				Message: fmt.Sprintf("method %q declared twice in service %s", m.Name(), id),
			}
		}
		s.byName[m.Name()] = m
		s.methods = append(s.methods, m)
	}

	return s, nil
}

// MustService is NewService for static declarations; it panics on error.
func MustService(id ServiceID, namespace string, methods []*Method, opts ...ServiceOption) *Service {
	s, err := NewService(id, namespace, methods, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// ID returns the service identity token.
func (s *Service) ID() ServiceID { return s.id }

// Namespace returns the declared namespace, possibly empty.
func (s *Service) Namespace() string { return s.namespace }

// IsAuxiliary reports whether the service only rides along with primary calls.
func (s *Service) IsAuxiliary() bool { return s.auxiliary }

// Policy returns the auxiliary execution policy. Only meaningful when IsAuxiliary is true.
func (s *Service) Policy() AuxPolicy { return s.policy }

// Methods returns the methods in declaration order.
func (s *Service) Methods() []*Method {
	out := make([]*Method, len(s.methods))
	copy(out, s.methods)
	return out
}

// Method returns the method with the given name.
func (s *Service) Method(name string) (*Method, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// Role returns "auxiliary/<policy>" or "primary", for logs.
func (s *Service) Role() string {
	if s.auxiliary {
		return "auxiliary/" + s.policy.String()
	}
	return "primary"
}
