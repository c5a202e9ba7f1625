package mqttcomms

import "fmt"

// TransportError reports a failure at the MQTT transport boundary itself
// (broker connect, publish, request timeout) rather than in the
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
		return fmt.Sprintf("mqttcomms: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqttcomms: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
