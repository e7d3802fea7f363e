package dispatch

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/registry"
	"github.com/shhac/switchboard/internal/worker"
)

// detach schedules a detached auxiliary on the pool. The task context keeps
// the caller's values but not its cancellation, so returning the primary
// response does not abort the auxiliary.
func (d *Dispatcher) detach(ctx context.Context, callID string, key registry.Key, c registry.Candidate, args []any) {
	detachedCtx := context.WithoutCancel(ctx)
	args = append([]any(nil), args...)

	pool := d.detachedPool()
	if pool == nil {
		d.report(detachedCtx, callID, key, c, worker.ErrPoolClosed)
		return
	}

	err := pool.Submit(detachedCtx, worker.Task{
		Name: key.String() + "@" + string(c.Service.ID()),
		Run: func(ctx context.Context) error {
			_, err := d.call(ctx, callID, key, c, args)
			return err
		},
		OnFail: func(err error) {
			d.report(detachedCtx, callID, key, c, err)
		},
	})
	if err != nil {
		d.report(detachedCtx, callID, key, c, err)
		return
	}

	d.logger.Debug("detached auxiliary scheduled",
		slog.String("key", key.String()),
		slog.String("service", string(c.Service.ID())),
		slog.String("call_id", callID),
	)
}

// report is the out-of-band channel for detached failures: an error log
// entry and the optional observer.
func (d *Dispatcher) report(ctx context.Context, callID string, key registry.Key, c registry.Candidate, err error) {
	// Handler failures arrive wrapped; the auxiliary error carries the cause.
	var handlerErr *apperrors.HandlerError
	if errors.As(err, &handlerErr) {
		err = handlerErr.Cause
	}

	auxErr := &apperrors.AuxiliaryExecutionError{
		Key:     key.String(),
		Service: string(c.Service.ID()),
		CallID:  callID,
		Cause:   err,
	}
	var panicErr *apperrors.PanicError
	if errors.As(err, &panicErr) {
		auxErr.Panic = panicErr.Value
	}

	d.logger.Error("detached auxiliary failed",
		slog.String("key", auxErr.Key),
		slog.String("service", auxErr.Service),
		slog.String("call_id", callID),
		slog.Any("error", auxErr),
	)

	if d.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("auxiliary observer panicked",
				slog.String("key", auxErr.Key),
				slog.Any("panic", r),
			)
		}
	}()
	d.observer(ctx, auxErr)
}
