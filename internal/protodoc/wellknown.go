package protodoc

// Registers the well-known types that generated documents import, so
// desc.LoadMessageDescriptor can find them in the global registry.
import (
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
)

const (
	timestampType = "google.protobuf.Timestamp"
	valueType     = "google.protobuf.Value"
)
