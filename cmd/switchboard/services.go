package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shhac/switchboard/internal/dispatch"
	"github.com/shhac/switchboard/internal/domain"
)

// demoServices declares the services the binary serves: a greeter, a
// detached audit auxiliary on its echo method and, with fanout, a second
// primary for echo. Handlers log through logger.
func demoServices(fanout bool, logger *slog.Logger) ([]*domain.Service, error) {
	greeter, err := domain.NewService("greeter", "", []*domain.Method{
		domain.MustMethod("echo", echo,
			domain.WithInputs(domain.Param{Name: "s", Type: domain.String}),
			domain.WithReturns(domain.String),
		),
		domain.MustMethod("divmod", divmod,
			domain.WithInputs(
				domain.Param{Name: "a", Type: domain.Integer},
				domain.Param{Name: "b", Type: domain.Integer},
			),
			domain.WithReturns(domain.Integer, domain.Integer),
			domain.WithOutputNames("quotient", "remainder"),
		),
		domain.MustMethod("now", now,
			domain.WithReturns(domain.DateTime),
			domain.WithOutputName("time"),
		),
		domain.MustMethod("notify", notify(logger),
			domain.WithInputs(domain.Param{Name: "from", Type: domain.String}),
			domain.WithInputNames(map[string]string{"from": "sender"}),
			domain.WithMode(domain.ModeAsync),
		),
	})
	if err != nil {
		return nil, err
	}

	audit, err := domain.NewService("audit", "", []*domain.Method{
		domain.MustMethod("echo", auditEcho(logger),
			domain.WithInputs(domain.Param{Name: "s", Type: domain.String}),
		),
	}, domain.AsAuxiliary(domain.AuxDetached))
	if err != nil {
		return nil, err
	}

	services := []*domain.Service{greeter, audit}
	if fanout {
		shouter, err := domain.NewService("shouter", "", []*domain.Method{
			domain.MustMethod("echo", shout,
				domain.WithInputs(domain.Param{Name: "s", Type: domain.String}),
				domain.WithReturns(domain.String),
			),
		})
		if err != nil {
			return nil, err
		}
		services = append(services, shouter)
	}
	return services, nil
}

func echo(_ context.Context, args []any) ([]any, error) {
	return []any{args[0]}, nil
}

func shout(_ context.Context, args []any) ([]any, error) {
	s, _ := args[0].(string)
	return []any{strings.ToUpper(s)}, nil
}

func divmod(_ context.Context, args []any) ([]any, error) {
	a, _ := args[0].(int64)
	b, _ := args[1].(int64)
	if b == 0 {
		return nil, errors.New("division by zero")
	}
	return []any{a / b, a % b}, nil
}

func now(context.Context, []any) ([]any, error) {
	return []any{time.Now().UTC()}, nil
}

func notify(logger *slog.Logger) domain.Handler {
	return func(ctx context.Context, args []any) ([]any, error) {
		logger.InfoContext(ctx, "notification received", slog.Any("from", args[0]))
		return nil, nil
	}
}

func auditEcho(logger *slog.Logger) domain.Handler {
	return func(ctx context.Context, args []any) ([]any, error) {
		info, _ := dispatch.CallInfoFromContext(ctx)
		logger.InfoContext(ctx, "echo audited",
			slog.String("call_id", info.CallID),
			slog.Any("s", args[0]),
		)
		return nil, nil
	}
}
