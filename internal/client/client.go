// Package client talks to a running switchboard server. Every call is
// resolved through server reflection, so no generated code is needed.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Services that every server exposes and that are never bridged methods.
var internalServices = map[string]bool{
	"grpc.reflection.v1alpha.ServerReflection": true,
	"grpc.reflection.v1.ServerReflection":      true,
	"grpc.health.v1.Health":                    true,
}

// Method describes one remote method as advertised by reflection.
type Method struct {
	Name      string
	Path      string
	Streaming bool
	Input     []string
	Output    []string
}

// Service is a reflected service and its methods.
type Service struct {
	FullName string
	Methods  []Method
}

// Client wraps a connection, a reflection client and a dynamic stub.
type Client struct {
	conn    *grpc.ClientConn
	refl    *grpcreflect.Client
	stub    grpcdynamic.Stub
	logger  *slog.Logger
	address string
}

// New connects to a switchboard server at address. The connection is
// plaintext; the server is meant to sit behind a local proxy or mesh.
func New(ctx context.Context, address string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Configure keepalive parameters for long-lived CLI sessions
	kaParams := keepalive.ClientParameters{
		Time:                10 * time.Second, // Ping every 10s
		Timeout:             3 * time.Second,  // Wait 3s for ping ack
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(address,
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logger.Error("failed to create gRPC client",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return nil, err
	}

	refl := grpcreflect.NewClientAuto(ctx, conn)
	// Fall back to local well-known types for imported descriptors
	refl.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)

	logger.Debug("gRPC connection created", slog.String("address", address))
	return &Client{
		conn:    conn,
		refl:    refl,
		stub:    grpcdynamic.NewStub(conn),
		logger:  logger,
		address: address,
	}, nil
}

// Close releases the reflection stream and the connection.
func (c *Client) Close() error {
	c.refl.Reset()
	return c.conn.Close()
}

// Address returns the server address.
func (c *Client) Address() string {
	return c.address
}

// Services lists the bridged services, skipping reflection and health.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	c.logger.Debug("listing services via reflection")

	names, err := c.refl.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	var services []Service
	for _, name := range names {
		if internalServices[name] {
			continue
		}
		sd, err := c.refl.ResolveService(name)
		if err != nil {
			c.logger.Warn("failed to resolve service",
				slog.String("service", name),
				slog.Any("error", err),
			)
			continue
		}
		services = append(services, convertService(sd))
	}

	c.logger.Debug("discovered services", slog.Int("count", len(services)))
	return services, nil
}

// Method resolves a gRPC method path of the form "/package.Service/method".
func (c *Client) Method(ctx context.Context, path string) (*desc.MethodDescriptor, error) {
	serviceName, methodName, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	sd, err := c.refl.ResolveService(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service %s: %w", serviceName, err)
	}
	md := sd.FindMethodByName(methodName)
	if md == nil {
		return nil, fmt.Errorf("method %s not found in service %s", methodName, serviceName)
	}
	return md, nil
}

func splitPath(path string) (service, method string, err error) {
	trimmed := strings.TrimPrefix(path, "/")
	i := strings.LastIndexByte(trimmed, '/')
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", fmt.Errorf("invalid method path %q, want /package.Service/method", path)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

func convertService(sd *desc.ServiceDescriptor) Service {
	svc := Service{FullName: sd.GetFullyQualifiedName()}
	for _, md := range sd.GetMethods() {
		svc.Methods = append(svc.Methods, Method{
			Name:      md.GetName(),
			Path:      "/" + sd.GetFullyQualifiedName() + "/" + md.GetName(),
			Streaming: md.IsServerStreaming(),
			Input:     fieldNames(md.GetInputType()),
			Output:    fieldNames(md.GetOutputType()),
		})
	}
	return svc
}

func fieldNames(md *desc.MessageDescriptor) []string {
	var names []string
	for _, fd := range md.GetFields() {
		names = append(names, fd.GetName())
	}
	return names
}
