package block

import "fmt"

// EndpointError reports that a path does not resolve inside a Block's
// tree (spec.md §7).
type EndpointError struct {
	Block string
	Path  []string
	Msg   string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint error: block %q, path %v: %s", e.Block, e.Path, e.Msg)
}

// MethodError reports that a method invocation failed; its Reason
// carries the verbatim failure reason (including remote method errors
// forwarded by the client proxy).
type MethodError struct {
	Block  string
	Method string
	Reason string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("method error: %s.%s: %s", e.Block, e.Method, e.Reason)
}
