package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc/metadata"
)

// Call invokes the method at path with a JSON request and returns one JSON
// document per reply. Fanout methods stream one reply per implementation.
func (c *Client) Call(ctx context.Context, path, jsonRequest string, md metadata.MD) ([]string, error) {
	methodDesc, err := c.Method(ctx, path)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("invoking method",
		slog.String("method", path),
		slog.String("request", jsonRequest),
		slog.Bool("streaming", methodDesc.IsServerStreaming()),
	)

	// Create dynamic request message from method descriptor
	reqMsg := dynamic.NewMessage(methodDesc.GetInputType())
	if jsonRequest != "" {
		if err := reqMsg.UnmarshalJSON([]byte(jsonRequest)); err != nil {
			return nil, fmt.Errorf("invalid request JSON: %w", err)
		}
	}

	// Add request metadata if provided
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	if !methodDesc.IsServerStreaming() {
		respMsg, err := c.stub.InvokeRpc(ctx, methodDesc, reqMsg)
		if err != nil {
			c.logger.Debug("call failed",
				slog.String("method", path),
				slog.Any("error", err),
			)
			return nil, err
		}
		out, err := respMsg.(*dynamic.Message).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to format response: %w", err)
		}
		return []string{string(out)}, nil
	}

	stream, err := c.stub.InvokeRpcServerStream(ctx, methodDesc, reqMsg)
	if err != nil {
		return nil, err
	}

	var replies []string
	for {
		respMsg, err := stream.RecvMsg()
		if err == io.EOF {
			c.logger.Debug("stream completed",
				slog.String("method", path),
				slog.Int("message_count", len(replies)),
			)
			return replies, nil
		}
		if err != nil {
			return replies, err
		}

		out, err := respMsg.(*dynamic.Message).MarshalJSON()
		if err != nil {
			return replies, fmt.Errorf("failed to format stream message: %w", err)
		}
		replies = append(replies, string(out))
	}
}
