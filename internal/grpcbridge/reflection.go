package grpcbridge

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// RegisterReflection exposes the bridged services, and the services
// registered on srv, through gRPC server reflection.
func (s *Server) RegisterReflection(srv *grpc.Server) error {
	local := new(protoregistry.Files)
	for _, fd := range s.doc.Files() {
		if err := local.RegisterFile(fd.UnwrapFile()); err != nil {
			return fmt.Errorf("register %s: %w", fd.GetName(), err)
		}
	}

	reflectionpb.RegisterServerReflectionServer(srv, reflection.NewServerV1(reflection.ServerOptions{
		Services:           &serviceInfo{server: srv, bridge: s},
		DescriptorResolver: &combinedResolver{local: local, global: protoregistry.GlobalFiles},
	}))
	return nil
}

// serviceInfo merges the server's registered services with the bridged
// ones, which gRPC itself never sees.
type serviceInfo struct {
	server *grpc.Server
	bridge *Server
}

func (p *serviceInfo) GetServiceInfo() map[string]grpc.ServiceInfo {
	info := p.server.GetServiceInfo()
	for _, fd := range p.bridge.doc.Files() {
		for _, sd := range fd.GetServices() {
			methods := make([]grpc.MethodInfo, 0, len(sd.GetMethods()))
			for _, md := range sd.GetMethods() {
				methods = append(methods, grpc.MethodInfo{
					Name:           md.GetName(),
					IsServerStream: md.IsServerStreaming(),
				})
			}
			info[sd.GetFullyQualifiedName()] = grpc.ServiceInfo{
				Methods:  methods,
				Metadata: fd.GetName(),
			}
		}
	}
	return info
}

// combinedResolver tries the bridged files first, then the global registry.
type combinedResolver struct {
	local  *protoregistry.Files
	global *protoregistry.Files
}

func (r *combinedResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if fd, err := r.local.FindFileByPath(path); err == nil {
		return fd, nil
	}
	return r.global.FindFileByPath(path)
}

func (r *combinedResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if d, err := r.local.FindDescriptorByName(name); err == nil {
		return d, nil
	}
	return r.global.FindDescriptorByName(name)
}
