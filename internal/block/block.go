package block

import (
	"fmt"
	"sync"

	"github.com/blockmesh/process/internal/serializable"
)

// Block is a named, ordered container of Attribute, Method, and nested
// Block children (spec.md §3). Its lock protects structural mutation and to_dict
// traversal; every write ultimately originates from the owning
// Process's single loop (spec.md §4.3), so the lock's only real
// contention is against read-only snapshot callers on other
// goroutines.
type Block struct {
	Name string

	mu       sync.Mutex
	children *serializable.OrderedMap // name -> Child

	process Notifier

	// parent and parentName are set when this Block was added as a
	// nested child of another Block (a composite addressing its
	// sub-devices, spec.md §1). A root Block — the kind added directly
	// to a Process via AddBlock — has parent == nil.
	parent     *Block
	parentName string
}

// New returns an empty Block named name.
func New(name string) *Block {
	return &Block{Name: name, children: serializable.NewOrderedMap()}
}

// SetProcess attaches the Notifier a Block reports its mutations to.
// Called once by Process.AddBlock; a Block with no Notifier attached
// mutates silently (useful in isolated unit tests of Attribute/Method
// logic that don't need the Process loop).
func (b *Block) SetProcess(p Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.process = p
}

// AddChild inserts child under name, taking ownership of it (setting
// its block/name back-pointers so it can report mutations). AddChild
// does not itself emit a change event; use ReplaceChildren to publish a
// whole new child set atomically.
func (b *Block) AddChild(name string, child Child) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch c := child.(type) {
	case *Attribute:
		c.block, c.name = b, name
	case *Method:
		c.block, c.name = b, name
	case *Block:
		c.parent, c.parentName = b, name
	}
	b.children.Set(name, child)
}

// ToDict snapshots the Block: a nested dict mirroring its ordered
// children (spec.md §4.3). Holds the block lock for the duration of the
// traversal.
func (b *Block) ToDict() (*serializable.OrderedMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.toDictLocked()
}

func (b *Block) toDictLocked() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	for _, name := range b.children.Keys() {
		childAny, _ := b.children.Get(name)
		child, ok := childAny.(Child)
		if !ok {
			continue
		}
		cd, err := child.ToDict()
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", name, err)
		}
		d.Set(name, cd)
	}
	return d, nil
}

// Resolve returns the snapshot value at relPath, descending generically
// into the nested dict produced by ToDict — this is how a Get or an
// initial Subscribe snapshot addresses an arbitrarily deep endpoint
// (spec.md §4.4), including paths that run into a composite attribute's
// own nested value.
func (b *Block) Resolve(relPath []string) (any, error) {
	d, err := b.ToDict()
	if err != nil {
		return nil, err
	}
	var cur any = d
	for i, seg := range relPath {
		m, ok := cur.(*serializable.OrderedMap)
		if !ok {
			return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: fmt.Sprintf("%v is not a container at segment %d", relPath[:i], i)}
		}
		val, ok := m.Get(seg)
		if !ok {
			return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: fmt.Sprintf("no such child %q", seg)}
		}
		cur = val
	}
	return cur, nil
}

// attribute looks up a direct child attribute by name.
func (b *Block) attribute(name string) (*Attribute, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	childAny, ok := b.children.Get(name)
	if !ok {
		return nil, false
	}
	a, ok := childAny.(*Attribute)
	return a, ok
}

// method looks up a direct child method by name.
func (b *Block) method(name string) (*Method, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	childAny, ok := b.children.Get(name)
	if !ok {
		return nil, false
	}
	m, ok := childAny.(*Method)
	return m, ok
}

// Put locates the direct child attribute named by relPath (which must
// have exactly one element) and calls its put function (spec.md §4.4).
func (b *Block) Put(relPath []string, value any) (any, error) {
	if len(relPath) != 1 {
		return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: "put endpoint must address a direct attribute"}
	}
	attr, ok := b.attribute(relPath[0])
	if !ok {
		return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: fmt.Sprintf("no such attribute %q", relPath[0])}
	}
	return attr.Put(value)
}

// Post locates the direct child method named by relPath (which must
// have exactly one element), validates params, and invokes it
// (spec.md §4.4).
func (b *Block) Post(relPath []string, params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
	if len(relPath) != 1 {
		return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: "post endpoint must address a direct method"}
	}
	m, ok := b.method(relPath[0])
	if !ok {
		return nil, &EndpointError{Block: b.Name, Path: relPath, Msg: fmt.Sprintf("no such method %q", relPath[0])}
	}
	return m.Invoke(params)
}

// Update applies a validated (path, value) edit, emitting a BlockChanged
// event (spec.md §4.3). A path longer than one element descends through
// nested composite Block children; the final element must address a
// direct attribute. It is the generic entry point for locally-originated
// edits; a client proxy mirroring a remote Block must use ApplyRemote
// instead, which skips validation because the remote is authoritative
// (spec.md §4.6).
func (b *Block) Update(change Change) error {
	if len(change.Path) == 0 {
		return &EndpointError{Block: b.Name, Path: change.Path, Msg: "use ReplaceChildren for a root update"}
	}
	if len(change.Path) > 1 {
		sub, ok := b.subBlock(change.Path[0])
		if !ok {
			return &EndpointError{Block: b.Name, Path: change.Path, Msg: fmt.Sprintf("no such child block %q", change.Path[0])}
		}
		return sub.Update(Change{Path: change.Path[1:], Value: change.Value, Delete: change.Delete})
	}

	name := change.Path[0]
	attr, ok := b.attribute(name)
	if !ok {
		return &EndpointError{Block: b.Name, Path: change.Path, Msg: fmt.Sprintf("no such attribute %q", name)}
	}
	if change.Delete {
		b.mu.Lock()
		b.children.Delete(name)
		b.mu.Unlock()
		b.emitChange(change.Path, nil, true, false)
		return nil
	}
	if _, err := attr.SetValue(change.Value, false); err != nil {
		return err
	}
	return nil
}

// subBlock looks up a direct child that is itself a composite Block.
func (b *Block) subBlock(name string) (*Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	childAny, ok := b.children.Get(name)
	if !ok {
		return nil, false
	}
	sub, ok := childAny.(*Block)
	return sub, ok
}

// ApplyRemote applies a (path, value) edit forwarded verbatim from a
// client proxy's remote delta: no local meta.Validate runs, and a
// deletion removes the child structurally. relPath is relative to b
// (the mirrored root block) and may descend through nested composite
// Block children, matching the stripped-prefix paths a delta
// subscription delivers (spec.md §4.5, §4.6).
func (b *Block) ApplyRemote(change Change) error {
	if len(change.Path) == 0 {
		return &EndpointError{Block: b.Name, Path: change.Path, Msg: "remote update path must address a child"}
	}
	if len(change.Path) > 1 {
		sub, ok := b.subBlock(change.Path[0])
		if !ok {
			if change.Delete {
				return nil
			}
			return &EndpointError{Block: b.Name, Path: change.Path, Msg: fmt.Sprintf("no such child block %q", change.Path[0])}
		}
		return sub.ApplyRemote(Change{Path: change.Path[1:], Value: change.Value, Delete: change.Delete})
	}

	name := change.Path[0]
	b.mu.Lock()
	childAny, ok := b.children.Get(name)
	if !ok {
		b.mu.Unlock()
		if change.Delete {
			return nil
		}
		return &EndpointError{Block: b.Name, Path: change.Path, Msg: fmt.Sprintf("no such child %q", name)}
	}
	if change.Delete {
		b.children.Delete(name)
		b.mu.Unlock()
		b.emitChange(change.Path, nil, true, false)
		return nil
	}
	attr, ok := childAny.(*Attribute)
	b.mu.Unlock()
	if !ok {
		return &EndpointError{Block: b.Name, Path: change.Path, Msg: "cannot remotely update a method"}
	}
	attr.mu.Lock()
	attr.value = change.Value
	attr.mu.Unlock()
	b.emitChange(change.Path, change.Value, false, false)
	return nil
}

// ReplaceChildren atomically swaps the entire child set and emits a
// single root-replace change ([], new_snapshot) (spec.md §4.3). Used by
// the client proxy when a delta subscription's root path ([]) regenerates
// the mirrored block from a fresh remote snapshot.
func (b *Block) ReplaceChildren(children *serializable.OrderedMap) error {
	named := make(map[string]Child, children.Len())
	for _, name := range children.Keys() {
		raw, _ := children.Get(name)
		c, ok := raw.(Child)
		if !ok {
			return fmt.Errorf("replace children: %q is not a Child", name)
		}
		named[name] = c
	}

	b.mu.Lock()
	newChildren := serializable.NewOrderedMap()
	for _, name := range children.Keys() {
		c := named[name]
		switch cc := c.(type) {
		case *Attribute:
			cc.block, cc.name = b, name
		case *Method:
			cc.block, cc.name = b, name
		case *Block:
			cc.parent, cc.parentName = b, name
		}
		newChildren.Set(name, c)
	}
	b.children = newChildren
	snapshot, err := b.toDictLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.emitChange(nil, snapshot, false, false)
	return nil
}

// Notify reports the end of a mutation transaction on b, triggering the
// subscription engine's coalescing pass for b's root block (spec.md §4.5).
func (b *Block) Notify() {
	root := b.root()
	root.mu.Lock()
	p := root.process
	root.mu.Unlock()
	if n, ok := p.(interface{ NotifySubscribers(string) }); ok {
		n.NotifySubscribers(root.Name)
	}
}

// root walks the parent chain to the top-level Block (the one added
// directly to a Process via AddBlock).
func (b *Block) root() *Block {
	cur := b
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// absolutePath prepends the chain of parentNames from b up to its root,
// so a change reported by a deeply nested composite child carries a
// path relative to the root block it is ultimately hosted under.
func (b *Block) absolutePath(relPath []string) (root *Block, path []string) {
	path = append([]string{}, relPath...)
	cur := b
	for cur.parent != nil {
		path = append([]string{cur.parentName}, path...)
		cur = cur.parent
	}
	return cur, path
}

func (b *Block) emitChange(relPath []string, value any, del bool, notify bool) {
	root, path := b.absolutePath(relPath)
	root.mu.Lock()
	p := root.process
	root.mu.Unlock()
	if p == nil {
		return
	}
	fullPath := append([]string{root.Name}, path...)
	p.OnChanged(Change{Path: fullPath, Value: value, Delete: del}, notify)
}
