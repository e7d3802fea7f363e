package dispatch

import (
	"context"

	"github.com/shhac/switchboard/internal/domain"
	"github.com/shhac/switchboard/internal/registry"
)

// CallInfo describes the call a handler is serving.
type CallInfo struct {
	CallID    string
	Key       registry.Key
	Service   domain.ServiceID
	Method    *domain.Method
	Auxiliary bool
}

type callInfoKey struct{}

func withCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the call a handler is serving.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
