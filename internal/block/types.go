// Package block implements the Block container, and the Attribute and
// Method children it holds: a named structural unit whose serialized
// form mirrors its ordered children, whose mutations flow through a
// single owning Process (spec.md §4.3).
package block

import "github.com/blockmesh/process/internal/serializable"

// Change is a single edit: set children at Path to Value, or — when
// Delete is true — remove the node named by Path entirely. Path is
// relative to the Block the Change is applied to; a Process-level
// BlockChanged event carries a Path rooted at the block's own name
// (Path[0] == block name), matching spec.md §3's "endpoint[0] names
// the root block" convention applied to change events.
type Change struct {
	Path   []string
	Value  any
	Delete bool
}

// Child is anything a Block can hold by name: an Attribute, a Method,
// or another Block (Blocks are explicitly "logical composites" per
// spec.md §1, so nesting a Block inside a Block's children is how a
// composite addresses its sub-devices).
type Child interface {
	ToDict() (*serializable.OrderedMap, error)
}

// Notifier is the subset of Process a Block needs to report its own
// mutations, kept as an interface so block does not import process
// (process imports block, not the reverse).
type Notifier interface {
	// OnChanged enqueues a BlockChanged event carrying change, and — if
	// notify is true — a following BlockNotify for change.Path[0].
	OnChanged(change Change, notify bool)
}
