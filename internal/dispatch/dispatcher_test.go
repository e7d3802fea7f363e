package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/logging"
	"github.com/shhac/switchboard/internal/message"
	"github.com/shhac/switchboard/internal/registry"
	"github.com/shhac/switchboard/internal/worker"
)

// callLog records handler side effects across goroutines.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func echoMethod(h domain.Handler) *domain.Method {
	return domain.MustMethod("echo", h,
		domain.WithInputs(domain.Param{Name: "s", Type: domain.String}),
		domain.WithReturns(domain.String),
	)
}

func auxEchoMethod(h domain.Handler) *domain.Method {
	return domain.MustMethod("echo", h,
		domain.WithInputs(domain.Param{Name: "s", Type: domain.String}),
	)
}

func loggingEcho(log *callLog, suffix string) domain.Handler {
	return func(_ context.Context, args []any) ([]any, error) {
		s := args[0].(string)
		log.add(s + suffix)
		return []any{s}, nil
	}
}

func newDispatcher(t *testing.T, services []*domain.Service, regOpts []registry.Option, opts ...Option) *Dispatcher {
	t.Helper()
	regOpts = append([]registry.Option{registry.WithNamespace("tns")}, regOpts...)
	reg, err := registry.New(services, regOpts...)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	d := New(reg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func TestDispatch_Primary(t *testing.T) {
	log := &callLog{}
	svc := domain.MustService("greeter", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	assert.Equal(t, registry.Key{Namespace: "tns", Name: "echo"}, result.Key)
	assert.NotEmpty(t, result.CallID)
	assert.False(t, result.Fanout())
	require.Len(t, result.Replies, 1)

	reply := result.Primary()
	assert.Equal(t, domain.ServiceID("greeter"), reply.Service)
	assert.Equal(t, []any{"hey"}, reply.Values)
	assert.Equal(t, "hey", reply.Payload)
	assert.Equal(t, []string{"hey"}, log.snapshot())
}

func TestDispatch_InlineAuxiliary(t *testing.T) {
	log := &callLog{}
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(loggingEcho(log, ""))},
		domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	// Both handlers have run by the time the call returns; only the primary replies.
	assert.Equal(t, []string{"hey", "hey"}, log.snapshot())
	require.Len(t, result.Replies, 1)
	assert.Equal(t, "hey", result.Primary().Payload)
}

func TestDispatch_InlineAuxiliaryRegisteredFirst(t *testing.T) {
	log := &callLog{}
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(loggingEcho(log, "aux"))},
		domain.AsAuxiliary(domain.AuxInline))
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	d := newDispatcher(t, []*domain.Service{aux, primary}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	// Auxiliaries run after the primaries regardless of registration order.
	assert.Equal(t, []string{"hey", "heyaux"}, log.snapshot())
}

func TestDispatch_DetachedAuxiliary(t *testing.T) {
	log := &callLog{}
	release := make(chan struct{})
	blocking := func(_ context.Context, args []any) ([]any, error) {
		<-release
		log.add(args[0].(string) + "aux")
		return nil, nil
	}

	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(blocking)},
		domain.AsAuxiliary(domain.AuxDetached))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	assert.Equal(t, "hey", result.Primary().Payload)

	// The call returned while the auxiliary is still blocked.
	assert.Equal(t, []string{"hey"}, log.snapshot())

	close(release)
	assert.Eventually(t, func() bool {
		got := log.snapshot()
		return len(got) == 2 && got[1] == "heyaux"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hey", "heyaux"}, log.snapshot())
}

func TestDispatch_DetachedSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	seen := make(chan error, 1)
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(func(ctx context.Context, _ []any) ([]any, error) {
		<-release
		seen <- ctx.Err()
		return nil, nil
	})}, domain.AsAuxiliary(domain.AuxDetached))
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := d.Dispatch(ctx, "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	cancel()
	close(release)

	select {
	case err := <-seen:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("detached auxiliary did not run")
	}
}

func TestDispatch_DetachedFailureIsObserved(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		handler   domain.Handler
		wantPanic any
		wantCause error
	}{
		{
			name:      "error",
			handler:   func(context.Context, []any) ([]any, error) { return nil, boom },
			wantCause: boom,
		},
		{
			name:      "panic",
			handler:   func(context.Context, []any) ([]any, error) { panic("kaboom") },
			wantPanic: "kaboom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed := make(chan *apperrors.AuxiliaryExecutionError, 1)
			observer := func(_ context.Context, err *apperrors.AuxiliaryExecutionError) {
				observed <- err
			}

			primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
			aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(tt.handler)},
				domain.AsAuxiliary(domain.AuxDetached))
			d := newDispatcher(t, []*domain.Service{primary, aux}, nil, WithObserver(observer))

			result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
			require.NoError(t, err)

			select {
			case auxErr := <-observed:
				assert.Equal(t, "{tns}echo", auxErr.Key)
				assert.Equal(t, "audit", auxErr.Service)
				assert.Equal(t, result.CallID, auxErr.CallID)
				assert.ErrorIs(t, auxErr, apperrors.ErrAuxiliaryExecution)
				assert.Equal(t, tt.wantPanic, auxErr.Panic)
				if tt.wantCause != nil {
					assert.ErrorIs(t, auxErr, tt.wantCause)
				}
			case <-time.After(time.Second):
				t.Fatal("observer was not called")
			}
		})
	}
}

func TestDispatch_DetachedPoolSaturated(t *testing.T) {
	pool := worker.New(1, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), worker.Task{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	defer close(release)

	// The worker is busy and the single queue slot is taken.
	require.NoError(t, pool.Submit(context.Background(), worker.Task{Run: func(context.Context) error { return nil }}))

	observed := make(chan *apperrors.AuxiliaryExecutionError, 1)
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(func(context.Context, []any) ([]any, error) {
		return nil, nil
	})}, domain.AsAuxiliary(domain.AuxDetached))

	reg, err := registry.New([]*domain.Service{primary, aux}, registry.WithNamespace("tns"))
	require.NoError(t, err)
	d := New(reg, WithPool(pool), WithObserver(func(_ context.Context, err *apperrors.AuxiliaryExecutionError) {
		observed <- err
	}))

	_, err = d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	select {
	case auxErr := <-observed:
		assert.ErrorIs(t, auxErr, worker.ErrPoolSaturated)
	default:
		t.Fatal("saturation was not reported")
	}
}

func TestDispatch_DefaultPoolStartsOnFirstDetached(t *testing.T) {
	log := &callLog{}
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	d := newDispatcher(t, []*domain.Service{primary}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	assert.Nil(t, d.pool, "no detached auxiliary, no pool")

	aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(loggingEcho(log, "aux"))},
		domain.AsAuxiliary(domain.AuxDetached))
	d = newDispatcher(t, []*domain.Service{primary, aux}, nil)
	assert.Nil(t, d.pool)

	_, err = d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	assert.NotNil(t, d.pool)
	assert.Eventually(t, func() bool {
		return len(log.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestDispatch_DetachedAfterClose(t *testing.T) {
	observed := make(chan *apperrors.AuxiliaryExecutionError, 1)
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(func(context.Context, []any) ([]any, error) {
		return nil, nil
	})}, domain.AsAuxiliary(domain.AuxDetached))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil, WithObserver(func(_ context.Context, err *apperrors.AuxiliaryExecutionError) {
		observed <- err
	}))

	require.NoError(t, d.Close(context.Background()))
	assert.Nil(t, d.pool, "closing must not start the default pool")

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	select {
	case auxErr := <-observed:
		assert.ErrorIs(t, auxErr, worker.ErrPoolClosed)
	default:
		t.Fatal("closed pool was not reported")
	}
}

func TestDispatch_ObserverPanicIsContained(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(func(context.Context, []any) ([]any, error) {
		return nil, errors.New("boom")
	})}, domain.AsAuxiliary(domain.AuxDetached))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil, WithObserver(func(context.Context, *apperrors.AuxiliaryExecutionError) {
		once.Do(func() { close(done) })
		panic("observer bug")
	}))

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	<-done

	// The pool keeps serving after the observer panicked.
	_, err = d.Dispatch(context.Background(), "tns", "echo", []any{"again"})
	assert.NoError(t, err)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	orphan := domain.MustService("orphan", "", []*domain.Method{
		domain.MustMethod("audit", func(context.Context, []any) ([]any, error) { return nil, nil }),
	}, domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{primary, orphan}, nil)

	tests := []struct {
		name string
		ns   string
		op   string
	}{
		{"no such name", "tns", "missing"},
		{"wrong namespace", "other", "echo"},
		{"auxiliary only", "tns", "audit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := d.Dispatch(context.Background(), tt.ns, tt.op, nil)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, apperrors.ErrUnknownMethod)

			var unknownErr *apperrors.UnknownMethodError
			require.ErrorAs(t, err, &unknownErr)
			assert.Equal(t, registry.Key{Namespace: tt.ns, Name: tt.op}.String(), unknownErr.Key)
		})
	}
}

func TestDispatch_Fanout(t *testing.T) {
	log := &callLog{}
	first := domain.MustService("first", "", []*domain.Method{echoMethod(loggingEcho(log, "1"))})
	second := domain.MustService("second", "", []*domain.Method{echoMethod(func(_ context.Context, args []any) ([]any, error) {
		log.add(args[0].(string) + "2")
		return []any{"second:" + args[0].(string)}, nil
	})})
	d := newDispatcher(t, []*domain.Service{first, second}, []registry.Option{registry.WithFanout(true)})

	result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)

	assert.True(t, result.Fanout())
	require.Len(t, result.Replies, 2)
	assert.Equal(t, domain.ServiceID("first"), result.Replies[0].Service)
	assert.Equal(t, "hey", result.Replies[0].Payload)
	assert.Equal(t, domain.ServiceID("second"), result.Replies[1].Service)
	assert.Equal(t, "second:hey", result.Replies[1].Payload)
	assert.Equal(t, []string{"hey1", "hey2"}, log.snapshot())
}

func TestDispatch_PrimaryFailure(t *testing.T) {
	boom := errors.New("boom")
	log := &callLog{}
	first := domain.MustService("first", "", []*domain.Method{echoMethod(func(context.Context, []any) ([]any, error) {
		return nil, boom
	})})
	second := domain.MustService("second", "", []*domain.Method{echoMethod(loggingEcho(log, ""))})
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(loggingEcho(log, "aux"))},
		domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{first, second, aux}, []registry.Option{registry.WithFanout(true)})

	result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrHandler)
	assert.ErrorIs(t, err, boom)

	var handlerErr *apperrors.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "first", handlerErr.Service)
	assert.False(t, handlerErr.Auxiliary)

	// The first failure ends the call: nothing else ran.
	assert.Empty(t, log.snapshot())
}

func TestDispatch_PrimaryPanic(t *testing.T) {
	svc := domain.MustService("svc", "", []*domain.Method{echoMethod(func(context.Context, []any) ([]any, error) {
		panic("kaboom")
	})})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	assert.ErrorIs(t, err, apperrors.ErrHandler)

	var panicErr *apperrors.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestDispatch_InlineAuxiliaryFailure(t *testing.T) {
	boom := errors.New("audit down")
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	aux := domain.MustService("audit", "", []*domain.Method{auxEchoMethod(func(context.Context, []any) ([]any, error) {
		return nil, boom
	})}, domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	assert.ErrorIs(t, err, boom)

	var handlerErr *apperrors.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.True(t, handlerErr.Auxiliary)
	assert.Equal(t, "audit", handlerErr.Service)
}

func TestDispatch_InputArityMismatch(t *testing.T) {
	svc := domain.MustService("svc", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"a", "b"})
	assert.ErrorIs(t, err, apperrors.ErrArityMismatch)

	var arityErr *apperrors.ArityMismatchError
	require.ErrorAs(t, err, &arityErr)
	assert.Equal(t, apperrors.DirectionInput, arityErr.Direction)
	assert.Equal(t, 1, arityErr.Want)
	assert.Equal(t, 2, arityErr.Got)
}

func TestDispatch_OutputArityMismatch(t *testing.T) {
	svc := domain.MustService("svc", "", []*domain.Method{echoMethod(func(context.Context, []any) ([]any, error) {
		return []any{"a", "b"}, nil
	})})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
}

func TestDispatch_CompositeReply(t *testing.T) {
	multi := domain.MustMethod("multi", func(_ context.Context, args []any) ([]any, error) {
		return []any{"a", "b", "c"}, nil
	}, domain.WithReturns(domain.String, domain.String, domain.String))
	svc := domain.MustService("svc", "", []*domain.Method{multi})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	result, err := d.Dispatch(context.Background(), "tns", "multi", nil)
	require.NoError(t, err)

	c, ok := result.Primary().Payload.(*message.Composite)
	require.True(t, ok)
	assert.Equal(t, []string{"multiResult0", "multiResult1", "multiResult2"}, c.Names())

	values, err := message.Unwrap(c, multi)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, values)
}

func TestDispatch_HandlerArgsAreIsolated(t *testing.T) {
	log := &callLog{}
	mutating := func(_ context.Context, args []any) ([]any, error) {
		args[0] = "mutated"
		return []any{"x"}, nil
	}
	primary := domain.MustService("primary", "", []*domain.Method{echoMethod(mutating)})
	aux := domain.MustService("aux", "", []*domain.Method{auxEchoMethod(loggingEcho(log, ""))},
		domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	args := []any{"hey"}
	_, err := d.Dispatch(context.Background(), "tns", "echo", args)
	require.NoError(t, err)
	assert.Equal(t, []any{"hey"}, args)
	assert.Equal(t, []string{"hey"}, log.snapshot())
}

func TestDispatch_CallInfo(t *testing.T) {
	infos := make(chan CallInfo, 2)
	record := func(ctx context.Context, _ []any) ([]any, error) {
		info, ok := CallInfoFromContext(ctx)
		if !ok {
			return nil, errors.New("no call info")
		}
		infos <- info
		return nil, nil
	}
	primary := domain.MustService("primary", "", []*domain.Method{domain.MustMethod("ping", record)})
	aux := domain.MustService("aux", "", []*domain.Method{domain.MustMethod("ping", record)},
		domain.AsAuxiliary(domain.AuxInline))
	d := newDispatcher(t, []*domain.Service{primary, aux}, nil)

	result, err := d.Dispatch(context.Background(), "tns", "ping", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Primary().Payload)

	first, second := <-infos, <-infos
	assert.Equal(t, result.CallID, first.CallID)
	assert.Equal(t, result.CallID, second.CallID)
	assert.Equal(t, domain.ServiceID("primary"), first.Service)
	assert.False(t, first.Auxiliary)
	assert.Equal(t, domain.ServiceID("aux"), second.Service)
	assert.True(t, second.Auxiliary)

	_, ok := CallInfoFromContext(context.Background())
	assert.False(t, ok)
}

func TestDispatch_ConcurrentCalls(t *testing.T) {
	svc := domain.MustService("svc", "", []*domain.Method{echoMethod(func(_ context.Context, args []any) ([]any, error) {
		return []any{args[0]}, nil
	})})
	d := newDispatcher(t, []*domain.Service{svc}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
			if err != nil {
				errs <- err
				return
			}
			if result.Primary().Payload != "hey" {
				errs <- errors.New("unexpected payload")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDispatch_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	primary := domain.MustService("greeter", "", []*domain.Method{echoMethod(loggingEcho(&callLog{}, ""))})
	d := newDispatcher(t, []*domain.Service{primary}, nil, WithTracer(tp.Tracer("test")))

	_, err := d.Dispatch(context.Background(), "tns", "echo", []any{"hey"})
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), "tns", "missing", nil)
	require.Error(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"handler greeter", "dispatch echo", "dispatch missing"}, names)

	for _, s := range sr.Ended() {
		if s.Name() == "dispatch missing" {
			assert.Equal(t, "Error", s.Status().Code.String())
		}
	}
}
