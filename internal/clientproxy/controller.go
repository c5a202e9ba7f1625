// Package clientproxy mirrors a Block hosted on a remote Process into a
// local one: a Controller subscribes to the remote block's deltas, turns
// each root-path change into a freshly rebuilt child set (installing
// remote-forwarding Method shims as it goes), and forwards every other
// change straight to the mirrored Block's ApplyRemote (spec.md §4.6).
package clientproxy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

// Controller mirrors named remote Blocks into proc, discovering which
// ClientComms fronts each one dynamically rather than being handed a
// transport up front (spec.md §4.6, clientcontroller.py's __init__ takes
// no comms parameter either — client_comms is resolved lazily inside
// _subscribe_to_block).
type Controller struct {
	proc *process.Process
	log  *slog.Logger
}

// NewController returns a Controller that mirrors remote blocks into
// proc. log may be nil, in which case slog.Default() is used.
func NewController(proc *process.Process, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{proc: proc, log: log}
}

// Mirror registers an initially empty Block named blockName on the local
// Process, discovers which ClientComms fronts it, opens a delta
// subscription for it through that comms, and spawns a goroutine that
// applies every delta to the mirror until ctx is done. It returns the
// (as yet unpopulated) mirrored Block; its children appear once the
// subscription's initial root delta has been applied.
func (c *Controller) Mirror(ctx context.Context, blockName string) (*block.Block, error) {
	local := block.New(blockName)
	c.proc.AddBlock(blockName, local)

	comms, err := c.discoverClientComms(ctx, blockName)
	if err != nil {
		return nil, err
	}

	id, respChan := comms.Subscribe([]string{blockName}, true)
	c.proc.Spawn(func() {
		defer comms.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-respChan:
				if !ok {
					return
				}
				c.handleResponse(blockName, local, comms, resp)
			}
		}
	})
	return local, nil
}

// discoverClientComms mirrors clientcontroller.py's two-phase protocol:
// subscribe to the local process's own remoteBlocks attribute
// (REMOTE_BLOCKS_ID in the original) and wait for blockName to appear in
// it before asking the process which ClientComms fronts it
// (BLOCK_ID's delta subscribe can only target a comms once it's known).
// A client comms only lists a block in remoteBlocks once its own
// startup discovery Subscribe ([".", "blocks", "value"], spec.md §4.7)
// has heard back from the far end, so this also blocks Mirror until
// that round trip has completed.
func (c *Controller) discoverClientComms(ctx context.Context, blockName string) (process.ClientComms, error) {
	if comms, ok := c.proc.GetClientComms(blockName); ok {
		return comms, nil
	}

	id, respChan := c.proc.Subscribe([]string{c.proc.Name(), "remoteBlocks", "value"}, false)
	defer c.proc.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respChan:
			if !ok {
				return nil, fmt.Errorf("clientproxy: remoteBlocks subscription closed before %q appeared", blockName)
			}
			update, ok := resp.(*request.Update)
			if !ok {
				continue
			}
			names, err := request.ValueAsStringSlice(update.Value)
			if err != nil {
				return nil, fmt.Errorf("clientproxy: remoteBlocks value: %w", err)
			}
			if !slices.Contains(names, blockName) {
				continue
			}
			comms, ok := c.proc.GetClientComms(blockName)
			if !ok {
				return nil, fmt.Errorf("clientproxy: %q listed in remoteBlocks but no ClientComms registered for it", blockName)
			}
			return comms, nil
		}
	}
}

func (c *Controller) handleResponse(blockName string, local *block.Block, comms process.ClientComms, resp request.Response) {
	switch r := resp.(type) {
	case *request.Delta:
		if err := c.applyDelta(blockName, local, comms, r); err != nil {
			c.log.Error("clientproxy: applying remote delta failed", "block", blockName, "error", err)
		}
	case *request.Error:
		c.log.Error("clientproxy: remote subscription error", "block", blockName, "error", r.Message)
	default:
		c.log.Error("clientproxy: unexpected response on delta subscription", "block", blockName, "type", fmt.Sprintf("%T", resp))
	}
}

func (c *Controller) applyDelta(blockName string, local *block.Block, comms process.ClientComms, delta *request.Delta) error {
	for _, ch := range delta.Changes {
		if len(ch.Path) == 0 {
			raw, ok := ch.Value.(*serializable.OrderedMap)
			if !ok {
				return fmt.Errorf("clientproxy: root delta value is %T, want *serializable.OrderedMap", ch.Value)
			}
			fresh, err := c.buildChildren(blockName, comms, raw)
			if err != nil {
				return err
			}
			if err := local.ReplaceChildren(fresh); err != nil {
				return err
			}
			continue
		}
		if err := local.ApplyRemote(block.Change{Path: ch.Path, Value: ch.Value, Delete: ch.Deleted}); err != nil {
			return err
		}
	}
	return nil
}

// buildChildren reconstructs a root snapshot's children from their wire
// dicts, installing a remote-forwarding Func on every direct Method
// child (blockName.name is a valid Post endpoint on the remote process;
// spec.md §4.4's Post dispatch only ever addresses a direct method, so
// that is the only depth a forwarding shim needs to support).
func (c *Controller) buildChildren(blockName string, comms process.ClientComms, raw *serializable.OrderedMap) (*serializable.OrderedMap, error) {
	out := serializable.NewOrderedMap()
	for _, name := range raw.Keys() {
		v, _ := raw.Get(name)
		cd, ok := v.(*serializable.OrderedMap)
		if !ok {
			return nil, fmt.Errorf("clientproxy: child %q is not an object", name)
		}
		child, err := c.rootChildFromDict(blockName, name, comms, cd)
		if err != nil {
			return nil, fmt.Errorf("clientproxy: child %q: %w", name, err)
		}
		out.Set(name, child)
	}
	return out, nil
}

func (c *Controller) rootChildFromDict(blockName, name string, comms process.ClientComms, d *serializable.OrderedMap) (block.Child, error) {
	if raw, ok := d.Get("typeid"); ok {
		typeid, _ := raw.(string)
		switch typeid {
		case block.AttributeTypeID:
			return attributeFromDict(d)
		case block.MethodTypeID:
			return c.methodFromDict(blockName, name, comms, d)
		default:
			return nil, fmt.Errorf("unsupported child typeid %q", typeid)
		}
	}
	return nestedBlockFromDict(name, d)
}

// nestedBlockFromDict rebuilds a composite sub-Block from its snapshot.
// Methods nested below the root never get a forwarding shim: the remote
// process could not dispatch a Post to one either, since endpoint[0] must
// name a direct child of the block the remote's Process registered.
func nestedBlockFromDict(name string, d *serializable.OrderedMap) (*block.Block, error) {
	sub := block.New(name)
	for _, childName := range d.Keys() {
		v, _ := d.Get(childName)
		cd, ok := v.(*serializable.OrderedMap)
		if !ok {
			return nil, fmt.Errorf("child %q is not an object", childName)
		}
		var child block.Child
		var err error
		if raw, ok := cd.Get("typeid"); ok {
			typeid, _ := raw.(string)
			switch typeid {
			case block.AttributeTypeID:
				child, err = attributeFromDict(cd)
			case block.MethodTypeID:
				child, err = methodMetaFromDict(cd)
			default:
				err = fmt.Errorf("unsupported child typeid %q", typeid)
			}
		} else {
			child, err = nestedBlockFromDict(childName, cd)
		}
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", childName, err)
		}
		sub.AddChild(childName, child)
	}
	return sub, nil
}

func attributeFromDict(d *serializable.OrderedMap) (*block.Attribute, error) {
	value, _ := d.Get("value")
	metaRaw, ok := d.Get("meta")
	if !ok {
		return nil, fmt.Errorf("attribute missing meta")
	}
	metaDict, ok := metaRaw.(*serializable.OrderedMap)
	if !ok {
		return nil, fmt.Errorf("attribute meta is not an object")
	}
	decoded, err := serializable.FromDict(metaDict)
	if err != nil {
		return nil, fmt.Errorf("attribute meta: %w", err)
	}
	m, ok := decoded.(meta.Meta)
	if !ok {
		return nil, fmt.Errorf("attribute meta decoded to %T, not a meta.Meta", decoded)
	}
	return block.NewAttribute(m, value), nil
}

func methodMetaFromDict(d *serializable.OrderedMap) (*block.Method, error) {
	takes, returns, err := methodMapsFromDict(d)
	if err != nil {
		return nil, err
	}
	return block.NewMethod(takes, returns, nil), nil
}

func methodMapsFromDict(d *serializable.OrderedMap) (takes, returns *meta.MapMeta, err error) {
	takesRaw, ok := d.Get("takes")
	if !ok {
		return nil, nil, fmt.Errorf("method missing takes")
	}
	takesDict, ok := takesRaw.(*serializable.OrderedMap)
	if !ok {
		return nil, nil, fmt.Errorf("method takes is not an object")
	}
	td, err := serializable.FromDict(takesDict)
	if err != nil {
		return nil, nil, fmt.Errorf("method takes: %w", err)
	}
	takes, ok = td.(*meta.MapMeta)
	if !ok {
		return nil, nil, fmt.Errorf("method takes decoded to %T, not *meta.MapMeta", td)
	}

	returnsRaw, ok := d.Get("returns")
	if !ok {
		return nil, nil, fmt.Errorf("method missing returns")
	}
	returnsDict, ok := returnsRaw.(*serializable.OrderedMap)
	if !ok {
		return nil, nil, fmt.Errorf("method returns is not an object")
	}
	rd, err := serializable.FromDict(returnsDict)
	if err != nil {
		return nil, nil, fmt.Errorf("method returns: %w", err)
	}
	returns, ok = rd.(*meta.MapMeta)
	if !ok {
		return nil, nil, fmt.Errorf("method returns decoded to %T, not *meta.MapMeta", rd)
	}
	return takes, returns, nil
}

func (c *Controller) methodFromDict(blockName, methodName string, comms process.ClientComms, d *serializable.OrderedMap) (*block.Method, error) {
	takes, returns, err := methodMapsFromDict(d)
	if err != nil {
		return nil, err
	}
	m := block.NewMethod(takes, returns, nil)
	m.SetFunc(func(params *serializable.OrderedMap) (*serializable.OrderedMap, error) {
		out, err := comms.Post([]string{blockName, methodName}, params)
		if err != nil {
			return nil, err
		}
		om, ok := out.(*serializable.OrderedMap)
		if !ok {
			return nil, fmt.Errorf("clientproxy: remote return for %s.%s is %T, want *serializable.OrderedMap", blockName, methodName, out)
		}
		return om, nil
	})
	return m, nil
}
