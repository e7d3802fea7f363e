// Package grpcbridge serves a dispatcher over gRPC. Requests are decoded
// with the descriptors of a protodoc.Document, so no generated code is
// needed on the server side.
package grpcbridge

import (
	"log/slog"

	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shhac/switchboard/internal/dispatch"
	apperrors "github.com/shhac/switchboard/internal/errors"
	"github.com/shhac/switchboard/internal/protodoc"
)

// Server routes gRPC calls to a dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	doc        *protodoc.Document
	logger     *slog.Logger
}

// New creates a bridge for the operations in doc.
func New(d *dispatch.Dispatcher, doc *protodoc.Document, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		dispatcher: d,
		doc:        doc,
		logger:     logger.With("component", "grpc_bridge"),
	}
}

// ServerOption installs the bridge as the handler for every method the
// gRPC server does not know about.
func (s *Server) ServerOption() grpc.ServerOption {
	return grpc.UnknownServiceHandler(s.handle)
}

// Document returns the interface document the bridge serves.
func (s *Server) Document() *protodoc.Document {
	return s.doc
}

func (s *Server) handle(_ any, stream grpc.ServerStream) error {
	path, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "method name missing from stream")
	}

	op, ok := s.doc.Operation(path)
	if !ok {
		s.logger.Debug("unknown method", slog.String("path", path))
		return apperrors.ToStatus(&apperrors.UnknownMethodError{Key: path})
	}

	req := dynamic.NewMessage(op.Descriptor.GetInputType())
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	if s.logger.Enabled(stream.Context(), slog.LevelDebug) {
		if body, err := req.MarshalJSON(); err == nil {
			s.logger.Debug("request received",
				slog.String("path", path),
				slog.String("body", string(body)),
			)
		}
	}

	args, err := DecodeArgs(req, op.Method)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.dispatcher.DispatchKey(stream.Context(), op.Key, args)
	if err != nil {
		return apperrors.ToStatus(err)
	}

	for _, reply := range result.Replies {
		resp, err := EncodeReply(op.Descriptor.GetOutputType(), reply.Method, reply.Payload)
		if err != nil {
			s.logger.Error("failed to encode reply",
				slog.String("path", path),
				slog.String("service", string(reply.Service)),
				slog.Any("error", err),
			)
			return apperrors.ToStatus(err)
		}
		if err := stream.SendMsg(resp); err != nil {
			return err
		}
	}

	s.logger.Debug("call served",
		slog.String("path", path),
		slog.String("call_id", result.CallID),
		slog.Int("replies", len(result.Replies)),
	)
	return nil
}
