// Package dispatch resolves calls against a registry, invokes the primary
// handlers and runs the auxiliary handlers that share the method key.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/message"
	"github.com/shhac/switchboard/internal/registry"
	"github.com/shhac/switchboard/internal/worker"
)

const tracerName = "github.com/shhac/switchboard/internal/dispatch"

const (
	defaultWorkers = 4
	defaultQueue   = 64
)

// Observer receives detached auxiliary failures. It runs on the worker
// goroutine that observed the failure.
type Observer func(ctx context.Context, err *apperrors.AuxiliaryExecutionError)

// Reply is the outcome of one primary handler.
type Reply struct {
	Service domain.ServiceID
	Method  *domain.Method
	Values  []any
	// Payload is nil for zero outputs, the raw value for one output and a
	// *message.Composite for several.
	Payload any
}

// Result holds the replies of every primary candidate, in registration order.
type Result struct {
	Key     registry.Key
	CallID  string
	Replies []Reply
}

// Primary returns the first primary reply.
func (r *Result) Primary() Reply {
	return r.Replies[0]
}

// Fanout reports whether more than one primary replied.
func (r *Result) Fanout() bool {
	return len(r.Replies) > 1
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPool sets the pool used for detached auxiliaries. The dispatcher
// closes it on Close. Without it, a pool of defaultWorkers is started on
// the first detached auxiliary.
func WithPool(p *worker.Pool) Option {
	return func(d *Dispatcher) {
		d.pool = p
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithObserver registers a callback for detached auxiliary failures, in
// addition to the error log.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithTracer overrides the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// Dispatcher invokes handlers for resolved method keys. It is safe for
// concurrent use; it does not synchronize handler side effects.
type Dispatcher struct {
	registry *registry.Registry
	pool     *worker.Pool
	poolOnce sync.Once
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// New creates a dispatcher over a built registry. It starts no goroutines
// itself; call Close to stop the detached pool once one is running.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch resolves namespace/name and invokes it with the decoded arguments.
func (d *Dispatcher) Dispatch(ctx context.Context, namespace, name string, args []any) (*Result, error) {
	return d.DispatchKey(ctx, registry.Key{Namespace: namespace, Name: name}, args)
}

// DispatchKey invokes every primary candidate of key in registration order,
// then the inline auxiliaries, then schedules the detached ones.
//
// The first failing primary or inline auxiliary ends the call with a
// HandlerError. Auxiliaries only run after all primaries succeed. Detached
// auxiliary outcomes never reach the caller.
func (d *Dispatcher) DispatchKey(ctx context.Context, key registry.Key, args []any) (*Result, error) {
	callID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "dispatch "+key.Name,
		trace.WithAttributes(
			attribute.String("rpc.namespace", key.Namespace),
			attribute.String("rpc.method", key.Name),
			attribute.String("switchboard.call_id", callID),
		),
	)
	defer span.End()

	d.logger.Debug("dispatching call",
		slog.String("key", key.String()),
		slog.String("call_id", callID),
		slog.Int("args", len(args)),
	)

	primaries := d.registry.Primaries(key)
	if len(primaries) == 0 {
		err := &apperrors.UnknownMethodError{Key: key.String()}
		d.logger.Debug("unknown method",
			slog.String("key", key.String()),
			slog.String("call_id", callID),
		)
		fail(span, err)
		return nil, err
	}

	result := &Result{Key: key, CallID: callID, Replies: make([]Reply, 0, len(primaries))}
	for _, c := range primaries {
		reply, err := d.invoke(ctx, callID, key, c, args)
		if err != nil {
			d.logger.Error("primary handler failed",
				slog.String("key", key.String()),
				slog.String("service", string(c.Service.ID())),
				slog.String("call_id", callID),
				slog.Any("error", err),
			)
			fail(span, err)
			return nil, err
		}
		result.Replies = append(result.Replies, reply)
	}

	auxiliaries := d.registry.Auxiliaries(key)
	for _, c := range auxiliaries {
		if c.Service.Policy() != domain.AuxInline {
			continue
		}
		if _, err := d.invoke(ctx, callID, key, c, args); err != nil {
			d.logger.Error("inline auxiliary handler failed",
				slog.String("key", key.String()),
				slog.String("service", string(c.Service.ID())),
				slog.String("call_id", callID),
				slog.Any("error", err),
			)
			fail(span, err)
			return nil, err
		}
	}
	for _, c := range auxiliaries {
		if c.Service.Policy() == domain.AuxDetached {
			d.detach(ctx, callID, key, c, args)
		}
	}

	span.SetAttributes(attribute.Int("switchboard.replies", len(result.Replies)))
	d.logger.Debug("call completed",
		slog.String("key", key.String()),
		slog.String("call_id", callID),
		slog.Int("replies", len(result.Replies)),
	)
	return result, nil
}

// Close drains detached work and stops the pool. Detached auxiliaries
// dispatched afterwards are reported as ErrPoolClosed.
func (d *Dispatcher) Close(ctx context.Context) error {
	// No default pool may start once closing has begun.
	d.poolOnce.Do(func() {})
	if d.pool == nil {
		return nil
	}
	return d.pool.Close(ctx)
}

// detachedPool returns the pool for detached auxiliaries, starting the
// default one on first use. It is nil after Close when none was started.
func (d *Dispatcher) detachedPool() *worker.Pool {
	d.poolOnce.Do(func() {
		if d.pool == nil {
			d.pool = worker.New(defaultWorkers, defaultQueue, d.logger)
		}
	})
	return d.pool
}

// invoke runs one candidate synchronously. Auxiliary return values are
// discarded; primary values are packed into a payload.
func (d *Dispatcher) invoke(ctx context.Context, callID string, key registry.Key, c registry.Candidate, args []any) (Reply, error) {
	values, err := d.call(ctx, callID, key, c, args)
	if err != nil {
		return Reply{}, err
	}
	if !c.IsPrimary() {
		return Reply{Service: c.Service.ID(), Method: c.Method}, nil
	}

	payload, err := message.Pack(values, c.Method)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Service: c.Service.ID(),
		Method:  c.Method,
		Values:  values,
		Payload: payload,
	}, nil
}

// call validates input arity and runs the handler with panic recovery.
func (d *Dispatcher) call(ctx context.Context, callID string, key registry.Key, c registry.Candidate, args []any) ([]any, error) {
	if len(args) != c.Method.InputArity() {
		return nil, &apperrors.ArityMismatchError{
			Method:    key.String(),
			Direction: apperrors.DirectionInput,
			Want:      c.Method.InputArity(),
			Got:       len(args),
		}
	}

	info := CallInfo{
		CallID:    callID,
		Key:       key,
		Service:   c.Service.ID(),
		Method:    c.Method,
		Auxiliary: !c.IsPrimary(),
	}
	ctx = withCallInfo(ctx, info)
	ctx, span := d.tracer.Start(ctx, "handler "+string(c.Service.ID()),
		trace.WithAttributes(
			attribute.String("switchboard.service", string(c.Service.ID())),
			attribute.String("switchboard.role", c.Service.Role()),
		),
	)
	defer span.End()

	values, err := safeCall(ctx, c.Method.Handler(), append([]any(nil), args...))
	if err != nil {
		var panicErr *apperrors.PanicError
		if errors.As(err, &panicErr) {
			d.logger.Error("handler panicked",
				slog.String("key", key.String()),
				slog.String("service", string(c.Service.ID())),
				slog.Any("panic", panicErr.Value),
				slog.String("stack", panicErr.Stack),
			)
		}
		err = &apperrors.HandlerError{
			Key:       key.String(),
			Service:   string(c.Service.ID()),
			Auxiliary: !c.IsPrimary(),
			Cause:     err,
		}
		fail(span, err)
		return nil, err
	}
	return values, nil
}

func safeCall(ctx context.Context, h domain.Handler, args []any) (values []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &apperrors.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return h(ctx, args)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
