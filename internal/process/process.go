package process

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

// queueCapacity approximates pymalcolm's unbounded Queue with a large
// buffered channel. A handler that needs to enqueue a follow-on event
// (on_changed, notify_subscribers, block_respond) uses enqueue, which
// falls back to a background goroutine if the buffer is briefly full —
// the loop itself must never block on its own queue (spec.md §5).
const queueCapacity = 4096

// subscriptionBuffer sizes a Subscribe response channel generously: a
// slow subscriber should not stall the loop across many notify rounds.
const subscriptionBuffer = 64

// ClientComms is what a client proxy needs from a transport fronting a
// remote process: the same Subscribe/Post/Unsubscribe shape Process
// itself exposes (spec.md §4.7 — "a queue onto which Requests can be
// put" plus response routing by id, adapted here into synchronous-
// looking calls rather than an explicit queue+callback pair). *Process
// itself satisfies this interface, which is exactly what lets a second
// in-process Process stand in for "the remote" in tests. Concrete
// transports (wscomms, mqttcomms) implement it by wrapping their own
// pending-request map.
type ClientComms interface {
	Subscribe(endpoint []string, delta bool) (id string, respChan chan request.Response)
	Post(endpoint []string, params *serializable.OrderedMap) (any, error)
	Unsubscribe(id string)
}

// Process owns a set of Blocks and a single-writer message loop: all
// block mutation, subscription bookkeeping, and response routing happen
// on one goroutine draining one channel (spec.md §4.4, §5).
type Process struct {
	name string
	log  *slog.Logger

	queue chan event
	done  chan struct{}

	processBlock     *block.Block
	blocksAttr       *block.Attribute
	remoteBlocksAttr *block.Attribute

	commsMu      sync.RWMutex
	clientComms  map[string]ClientComms
	blockToComms map[string]string

	spawnWG sync.WaitGroup
}

// New returns a Process named name, ready to Start. log may be nil, in
// which case slog.Default() is used.
func New(name string, log *slog.Logger) *Process {
	if log == nil {
		log = slog.Default()
	}
	pb, blocksAttr, remoteBlocksAttr := newProcessBlock(name)
	p := &Process{
		name:             name,
		log:              log,
		queue:            make(chan event, queueCapacity),
		done:             make(chan struct{}),
		processBlock:     pb,
		blocksAttr:       blocksAttr,
		remoteBlocksAttr: remoteBlocksAttr,
		clientComms:      make(map[string]ClientComms),
		blockToComms:     make(map[string]string),
	}
	pb.SetProcess(p)
	return p
}

// Name returns the process's own name (its block's name, and the
// endpoint root other processes use to address it).
func (p *Process) Name() string { return p.name }

// Logger returns the process's logger, for use by collaborators
// (reference Block implementations, transports) that need to report
// errors with no response channel left to carry them.
func (p *Process) Logger() *slog.Logger { return p.log }

func (p *Process) enqueue(ev event) {
	select {
	case p.queue <- ev:
	default:
		go func() { p.queue <- ev }()
	}
}

// Start launches the loop goroutine.
func (p *Process) Start() {
	go p.loop()
}

// Stop enqueues the sentinel PROCESS_STOP event and waits for the loop
// to drain preceding events and exit.
func (p *Process) Stop() {
	p.enqueue(event{kind: eventStop})
	<-p.done
	p.spawnWG.Wait()
}

// Spawn runs fn on its own goroutine, tracked so Stop can await
// in-flight background work (spec.md §5's SyncFactory.spawn boundary
// API; callables here are Go funcs rather than Python callables).
func (p *Process) Spawn(fn func()) {
	p.spawnWG.Add(1)
	go func() {
		defer p.spawnWG.Done()
		fn()
	}()
}

// AddBlock registers b under name. set_parent happens synchronously;
// the structural registration (appending to process_block.blocks,
// emitting the change) happens on the loop once the BlockAdd event is
// drained, preserving the loop's single-writer property.
func (p *Process) AddBlock(name string, b *block.Block) {
	b.SetProcess(p)
	p.enqueue(event{kind: eventBlockAdd, blockName: name, block: b})
}

// OnChanged implements block.Notifier: it enqueues a BlockChanged event
// and, if notify is true, a following BlockNotify for the block named
// by change.Path[0] (spec.md §4.4, §6's on_changed boundary API).
func (p *Process) OnChanged(change block.Change, notify bool) {
	p.enqueue(event{kind: eventBlockChanged, change: change})
	if notify && len(change.Path) > 0 {
		p.enqueue(event{kind: eventBlockNotify, notifyBlock: change.Path[0]})
	}
}

// NotifySubscribers enqueues a BlockNotify for blockName directly,
// without a paired BlockChanged (spec.md §6's notify_subscribers
// boundary API; used by Block.Notify after a batch of silent writes).
func (p *Process) NotifySubscribers(blockName string) {
	p.enqueue(event{kind: eventBlockNotify, notifyBlock: blockName})
}

// BlockRespond enqueues delivery of resp onto dest, indirecting response
// delivery through the loop so it is serialized with other events
// (spec.md §4.4's BlockRespond handler).
func (p *Process) BlockRespond(resp request.Response, dest chan request.Response) {
	p.enqueue(event{kind: eventBlockRespond, resp: resp, respDest: dest})
}

// UpdateBlockList records that clientCommsID fronts the remote blocks
// named by names, and refreshes process_block.remoteBlocks
// (spec.md §4.4's BlockList handler, §6's update_block_list boundary
// API).
func (p *Process) UpdateBlockList(clientCommsID string, names []string) {
	p.enqueue(event{kind: eventBlockList, clientCommsID: clientCommsID, remoteNames: names})
}

// RegisterClientComms associates id with c, so GetClientComms can route
// requests to it once UpdateBlockList reports the block names it fronts.
// Kept in a small mutex-guarded map rather than loop-owned state: comms
// registration happens at startup/reconfiguration, not on the block
// mutation hot path, and GetClientComms must return synchronously to
// callers on other goroutines (the client proxy).
func (p *Process) RegisterClientComms(id string, c ClientComms) {
	p.commsMu.Lock()
	defer p.commsMu.Unlock()
	p.clientComms[id] = c
}

// GetClientComms returns the ClientComms fronting the named remote
// block, if any client comms has announced it via UpdateBlockList.
func (p *Process) GetClientComms(blockName string) (ClientComms, bool) {
	p.commsMu.RLock()
	defer p.commsMu.RUnlock()
	commsID, ok := p.blockToComms[blockName]
	if !ok {
		return nil, false
	}
	c, ok := p.clientComms[commsID]
	return c, ok
}

func responseValue(resp request.Response) (any, error) {
	switch r := resp.(type) {
	case *request.Return:
		return r.Value, nil
	case *request.Error:
		return nil, &request.Error{ID: r.ID, Message: r.Message}
	default:
		return nil, fmt.Errorf("process: unexpected response type %T", resp)
	}
}

// Get issues a Get for endpoint and blocks for its Return.
func (p *Process) Get(endpoint []string) (any, error) {
	respChan := make(chan request.Response, 1)
	p.enqueue(event{kind: eventRequest, req: &request.Get{ID: request.NewID(), Endpoint: endpoint}, respChan: respChan})
	return responseValue(<-respChan)
}

// Put issues a Put for endpoint and blocks for its Return.
func (p *Process) Put(endpoint []string, value any) (any, error) {
	respChan := make(chan request.Response, 1)
	p.enqueue(event{kind: eventRequest, req: &request.Put{ID: request.NewID(), Endpoint: endpoint, Value: value}, respChan: respChan})
	return responseValue(<-respChan)
}

// Post issues a Post for endpoint and blocks for its Return.
func (p *Process) Post(endpoint []string, params *serializable.OrderedMap) (any, error) {
	respChan := make(chan request.Response, 1)
	p.enqueue(event{kind: eventRequest, req: &request.Post{ID: request.NewID(), Endpoint: endpoint, Parameters: params}, respChan: respChan})
	return responseValue(<-respChan)
}

// Subscribe issues a Subscribe for endpoint and returns its id and the
// channel that will carry its initial response followed by one response
// per coalesced notify round (spec.md §4.5). The caller is responsible
// for draining respChan and eventually calling Unsubscribe.
func (p *Process) Subscribe(endpoint []string, delta bool) (id string, respChan chan request.Response) {
	return p.SubscribeWithID(request.NewID(), endpoint, delta)
}

// SubscribeWithID is Subscribe with a caller-supplied id rather than a
// freshly minted one. A transport relaying a Subscribe request from a
// remote caller (wscomms, mqttcomms) needs every response it forwards to
// carry the original caller's request id, not one the Process invented,
// so it calls this directly instead of Subscribe.
func (p *Process) SubscribeWithID(id string, endpoint []string, delta bool) (respChan chan request.Response) {
	respChan = make(chan request.Response, subscriptionBuffer)
	p.enqueue(event{kind: eventRequest, req: &request.Subscribe{ID: id, Endpoint: endpoint, Delta: delta}, respChan: respChan})
	return respChan
}

// Unsubscribe cancels the subscription registered under id. Responses
// already in flight for it may still be delivered; callers must
// tolerate that (spec.md §5).
func (p *Process) Unsubscribe(id string) {
	p.enqueue(event{kind: eventRequest, req: &request.Unsubscribe{ID: id}, respChan: make(chan request.Response, 1)})
}
