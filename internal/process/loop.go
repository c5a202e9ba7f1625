package process

import (
	"fmt"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/request"
)

// loop is the Process's single consumer: the dispatch table of
// spec.md §4.4. The block-map, subscription-map and pending-change-map
// state below is local to this goroutine; client-comms routing lives on
// the Process behind commsMu.
func (p *Process) loop() {
	defer close(p.done)

	blocks := map[string]*block.Block{p.name: p.processBlock}
	pending := map[string][]block.Change{}
	subs := map[string][]*subscription{}

	for ev := range p.queue {
		switch ev.kind {
		case eventStop:
			return

		case eventBlockAdd:
			p.handleBlockAdd(blocks, ev)

		case eventRequest:
			p.handleRequest(blocks, subs, ev)

		case eventBlockChanged:
			name := ""
			if len(ev.change.Path) > 0 {
				name = ev.change.Path[0]
			}
			if name != "" {
				pending[name] = append(pending[name], ev.change)
			}

		case eventBlockNotify:
			p.handleNotify(blocks, pending, subs, ev.notifyBlock)

		case eventBlockRespond:
			sendResponse(ev.respDest, ev.resp)

		case eventBlockList:
			p.handleBlockList(ev)
		}
	}
}

func sendResponse(ch chan request.Response, resp request.Response) {
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
		// Slow or abandoned subscriber: never let a full response
		// channel stall the loop.
	}
}

func (p *Process) handleBlockAdd(blocks map[string]*block.Block, ev event) {
	blocks[ev.blockName] = ev.block
	ev.block.SetProcess(p)

	current, _ := p.blocksAttr.Value().([]string)
	updated := append(append([]string{}, current...), ev.blockName)
	if _, err := p.blocksAttr.SetValue(updated, true); err != nil {
		p.log.Error("process: failed to record added block", "block", ev.blockName, "error", err)
	}
}

func (p *Process) handleRequest(blocks map[string]*block.Block, subs map[string][]*subscription, ev event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("process: panic handling request", "request", ev.req, "panic", r)
			sendResponse(ev.respChan, &request.Error{ID: ev.req.RequestID(), Message: "internal error"})
		}
	}()

	switch req := ev.req.(type) {
	case *request.Get:
		b, ok := blocks[endpointBlock(req.Endpoint)]
		if !ok {
			sendResponse(ev.respChan, errorResponse(req.ID, "no such block %q", endpointBlock(req.Endpoint)))
			return
		}
		val, err := b.Resolve(req.Endpoint[1:])
		if err != nil {
			sendResponse(ev.respChan, errorResponse(req.ID, "%s", err))
			return
		}
		sendResponse(ev.respChan, &request.Return{ID: req.ID, Value: val})

	case *request.Put:
		b, ok := blocks[endpointBlock(req.Endpoint)]
		if !ok {
			sendResponse(ev.respChan, errorResponse(req.ID, "no such block %q", endpointBlock(req.Endpoint)))
			return
		}
		val, err := b.Put(req.Endpoint[1:], req.Value)
		if err != nil {
			sendResponse(ev.respChan, errorResponse(req.ID, "%s", err))
			return
		}
		sendResponse(ev.respChan, &request.Return{ID: req.ID, Value: val})

	case *request.Post:
		b, ok := blocks[endpointBlock(req.Endpoint)]
		if !ok {
			sendResponse(ev.respChan, errorResponse(req.ID, "no such block %q", endpointBlock(req.Endpoint)))
			return
		}
		out, err := b.Post(req.Endpoint[1:], req.Parameters)
		if err != nil {
			sendResponse(ev.respChan, errorResponse(req.ID, "%s", err))
			return
		}
		sendResponse(ev.respChan, &request.Return{ID: req.ID, Value: out})

	case *request.Subscribe:
		name := endpointBlock(req.Endpoint)
		b, ok := blocks[name]
		if !ok {
			sendResponse(ev.respChan, errorResponse(req.ID, "no such block %q", name))
			return
		}
		sub := &subscription{id: req.ID, endpoint: req.Endpoint, delta: req.Delta, respChan: ev.respChan}
		subs[name] = append(subs[name], sub)
		initial, err := initialResponse(sub, b)
		if err != nil {
			sendResponse(ev.respChan, errorResponse(req.ID, "%s", err))
			return
		}
		sendResponse(ev.respChan, initial)

	case *request.Unsubscribe:
		for name, list := range subs {
			for i, s := range list {
				if s.id == req.ID {
					subs[name] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}

	default:
		sendResponse(ev.respChan, errorResponse(ev.req.RequestID(), "unsupported request typeid"))
	}
}

func (p *Process) handleNotify(blocks map[string]*block.Block, pending map[string][]block.Change, subs map[string][]*subscription, blockName string) {
	changes := pending[blockName]
	if len(changes) == 0 {
		return
	}
	b, ok := blocks[blockName]
	if !ok {
		delete(pending, blockName)
		return
	}
	for _, sub := range subs[blockName] {
		resp, err := notifyResponse(sub, b, changes)
		if err != nil {
			p.log.Error("process: notify round failed", "block", blockName, "subscription", sub.id, "error", err)
			continue
		}
		if resp != nil {
			sendResponse(sub.respChan, resp)
		}
	}
	delete(pending, blockName)
}

func (p *Process) handleBlockList(ev event) {
	p.commsMu.Lock()
	for name, comms := range p.blockToComms {
		if comms == ev.clientCommsID {
			delete(p.blockToComms, name)
		}
	}
	for _, name := range ev.remoteNames {
		p.blockToComms[name] = ev.clientCommsID
	}
	all := make([]string, 0, len(p.blockToComms))
	for name := range p.blockToComms {
		all = append(all, name)
	}
	p.commsMu.Unlock()

	if _, err := p.remoteBlocksAttr.SetValue(all, true); err != nil {
		p.log.Error("process: failed to record remote block list", "comms", ev.clientCommsID, "error", err)
	}
}

func endpointBlock(endpoint []string) string {
	if len(endpoint) == 0 {
		return ""
	}
	return endpoint[0]
}

func errorResponse(id string, format string, args ...any) *request.Error {
	return &request.Error{ID: id, Message: fmt.Sprintf(format, args...)}
}
