package errors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain attached to statuses produced here.
const Domain = "switchboard.shhac.github.com"

// ToStatus converts a dispatch error into a gRPC status error.
// Handler errors that already carry a status pass through unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}

	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		if st, ok := status.FromError(handlerErr.Cause); ok && st.Code() != codes.Unknown {
			return st.Err()
		}
	}

	c := Classify(err)
	code := c.grpcCode()
	st := status.New(code, err.Error())

	metadata := map[string]string{"kind": string(c.Kind)}
	var unknownErr *UnknownMethodError
	if errors.As(err, &unknownErr) {
		metadata["key"] = unknownErr.Key
	}
	if handlerErr != nil {
		metadata["key"] = handlerErr.Key
		metadata["service"] = handlerErr.Service
	}

	withDetails, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason(c),
		Domain:   Domain,
		Metadata: metadata,
	})
	if detailErr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func (c *Classification) grpcCode() codes.Code {
	switch c.Kind {
	case KindResolution:
		return codes.Unimplemented
	case KindCodec:
		return codes.Internal
	case KindConfiguration:
		var validationErr ValidationError
		if errors.As(c.Err, &validationErr) {
			return codes.InvalidArgument
		}
		return codes.FailedPrecondition
	case KindCancelled:
		if c.Retryable {
			return codes.DeadlineExceeded
		}
		return codes.Canceled
	default:
		return codes.Unknown
	}
}

func reason(c *Classification) string {
	return strings.ToUpper(strings.ReplaceAll(c.Title, " ", "_"))
}

// FromStatus recovers the taxonomy kind from a status produced by ToStatus.
// Statuses without our ErrorInfo report KindUnknown.
func FromStatus(err error) (Kind, string) {
	st, ok := status.FromError(err)
	if !ok {
		return KindUnknown, ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return Kind(info.GetMetadata()["kind"]), info.GetReason()
		}
	}
	return KindUnknown, ""
}

// FormatStatusDetails renders rich error details from a gRPC status for logs.
func FormatStatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string
	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			var lines []string
			lines = append(lines, fmt.Sprintf("Error Info: %s", d.GetReason()))
			if d.GetDomain() != "" {
				lines = append(lines, fmt.Sprintf("  Domain: %s", d.GetDomain()))
			}
			for k, v := range d.GetMetadata() {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				lines := []string{"Field Violations:"}
				for _, fv := range fvs {
					lines = append(lines, fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.DebugInfo:
			lines := []string{"Debug Info:"}
			if d.GetDetail() != "" {
				lines = append(lines, "  "+d.GetDetail())
			}
			for _, entry := range d.GetStackEntries() {
				lines = append(lines, "  "+entry)
			}
			sections = append(sections, strings.Join(lines, "\n"))

		default:
			sections = append(sections, fmt.Sprintf("Detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n\n")
}
