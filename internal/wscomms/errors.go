package wscomms

import "fmt"

// TransportError reports a failure at the WebSocket transport boundary
// itself (dial, connection loss, request timeout) rather than in the
// Block/Process logic the request addressed, so callers can distinguish
// "the remote never got to answer" from an EndpointError/MethodError the
// remote actually returned.
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("wscomms: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("wscomms: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
