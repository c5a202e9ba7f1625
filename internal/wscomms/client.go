// Package wscomms implements ClientComms and ServerComms over WebSocket:
// every wire frame is a Serializable's OrderedMap (typeid-tagged,
// key-order preserved), read and written with gorilla/websocket's
// ReadJSON/WriteJSON (spec.md §4.7).
package wscomms

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

// requestTimeout bounds how long a one-shot Get/Put/Post waits for its
// Return or Error before giving up.
const requestTimeout = 30 * time.Second

// pendingEntry is a response destination registered under a request id.
// oneShot entries (Get/Put/Post) are removed from the pending map after
// their first delivery; Subscribe entries stay registered, since a
// subscription keeps producing responses under the same id until
// Unsubscribe, until the caller asks to stop.
type pendingEntry struct {
	ch      chan request.Response
	oneShot bool
}

// ClientComms dials a remote process's ServerComms and implements
// process.ClientComms over the connection (Subscribe/Post/Unsubscribe),
// plus convenience Get/Put for callers that are not a client proxy.
type ClientComms struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	log    *slog.Logger
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry
}

// Dial connects to rawURL (an ws:// or wss:// endpoint), registers the
// resulting ClientComms on proc under commsID, and starts the read loop
// that routes incoming responses to their pending callers. It also sends
// the startup discovery Subscribe for [".", "blocks", "value"] (spec.md
// §4.7) and routes every response it gets back into
// proc.UpdateBlockList(commsID, ...), so proc learns which remote blocks
// this comms fronts without the caller having to know them up front. log
// may be nil, in which case slog.Default() is used.
func Dial(ctx context.Context, proc *process.Process, commsID, rawURL string, log *slog.Logger) (*ClientComms, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &TransportError{Op: "parse url", Target: rawURL, Err: err}
	}

	dialer := websocket.Dialer{
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 64 << 10,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Target: u.String(), Err: err}
	}
	conn.SetReadLimit(100 << 20)

	c := &ClientComms{
		conn:    conn,
		log:     log,
		done:    make(chan struct{}),
		pending: make(map[string]*pendingEntry),
	}
	go c.readLoop()

	proc.RegisterClientComms(commsID, c)
	c.startBlockDiscovery(proc, commsID)
	return c, nil
}

// startBlockDiscovery issues the startup Subscribe for [".", "blocks",
// "value"] (SERVER_BLOCKS_ID in the original wsclientcomms.py) and feeds
// every decoded block list into proc.UpdateBlockList(commsID, ...) on its
// own goroutine for as long as the connection stays up.
func (c *ClientComms) startBlockDiscovery(proc *process.Process, commsID string) {
	id, respChan := c.Subscribe([]string{".", "blocks", "value"}, false)
	proc.Spawn(func() {
		defer c.Unsubscribe(id)
		for {
			select {
			case <-c.done:
				return
			case resp, ok := <-respChan:
				if !ok {
					return
				}
				update, ok := resp.(*request.Update)
				if !ok {
					continue
				}
				names, err := request.ValueAsStringSlice(update.Value)
				if err != nil {
					c.log.Error("wscomms: blocks discovery value", "error", err)
					continue
				}
				proc.UpdateBlockList(commsID, names)
			}
		}
	})
}

// Close closes the underlying connection.
func (c *ClientComms) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.Close()
}

// Done returns a channel closed once the connection is lost (readLoop
// exits, normally or otherwise). A supervisor can select on it to notice
// a drop without waiting for the next poll of an unrelated health check.
func (c *ClientComms) Done() <-chan struct{} { return c.done }

func (c *ClientComms) send(req request.Request) error {
	d, err := serializable.ToDict(req)
	if err != nil {
		return fmt.Errorf("wscomms: encode request: %w", err)
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(d)
}

func (c *ClientComms) requestOnce(req request.Request) (request.Response, error) {
	id := req.RequestID()
	ch := make(chan request.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = &pendingEntry{ch: ch, oneShot: true}
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(requestTimeout):
		return nil, &TransportError{Op: "request", Target: id, Err: fmt.Errorf("timeout after %s", requestTimeout)}
	}
}

func responseValue(resp request.Response) (any, error) {
	switch r := resp.(type) {
	case *request.Return:
		return r.Value, nil
	case *request.Error:
		return nil, r
	default:
		return nil, fmt.Errorf("wscomms: unexpected response type %T", resp)
	}
}

// Get issues a Get for endpoint and blocks for its Return.
func (c *ClientComms) Get(endpoint []string) (any, error) {
	resp, err := c.requestOnce(&request.Get{ID: request.NewID(), Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return responseValue(resp)
}

// Put issues a Put for endpoint and blocks for its Return.
func (c *ClientComms) Put(endpoint []string, value any) (any, error) {
	resp, err := c.requestOnce(&request.Put{ID: request.NewID(), Endpoint: endpoint, Value: value})
	if err != nil {
		return nil, err
	}
	return responseValue(resp)
}

// Post issues a Post for endpoint and blocks for its Return
// (process.ClientComms).
func (c *ClientComms) Post(endpoint []string, params *serializable.OrderedMap) (any, error) {
	resp, err := c.requestOnce(&request.Post{ID: request.NewID(), Endpoint: endpoint, Parameters: params})
	if err != nil {
		return nil, err
	}
	return responseValue(resp)
}

// Subscribe issues a Subscribe for endpoint and returns its id and a
// channel fed by every subsequent response the remote sends for it
// (process.ClientComms).
func (c *ClientComms) Subscribe(endpoint []string, delta bool) (id string, respChan chan request.Response) {
	id = request.NewID()
	respChan = make(chan request.Response, 64)
	c.pendingMu.Lock()
	c.pending[id] = &pendingEntry{ch: respChan, oneShot: false}
	c.pendingMu.Unlock()

	if err := c.send(&request.Subscribe{ID: id, Endpoint: endpoint, Delta: delta}); err != nil {
		c.log.Error("wscomms: subscribe send failed", "endpoint", endpoint, "error", err)
	}
	return id, respChan
}

// Unsubscribe cancels the subscription registered under id
// (process.ClientComms).
func (c *ClientComms) Unsubscribe(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if err := c.send(&request.Unsubscribe{ID: id}); err != nil {
		c.log.Error("wscomms: unsubscribe send failed", "id", id, "error", err)
	}
}

// readLoop continuously reads frames, decodes them through the
// serializable registry, and routes each Response to its pending caller
// by id, mirroring the teacher's sendAndWait/pending correlation map.
func (c *ClientComms) readLoop() {
	defer close(c.done)
	for {
		var raw serializable.OrderedMap
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.ReadJSON(&raw); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("wscomms: connection closed normally")
				return
			}
			c.log.Error("wscomms: read error, connection lost", "error", err)
			return
		}

		v, err := serializable.FromDict(&raw)
		if err != nil {
			c.log.Error("wscomms: failed to decode frame", "error", err)
			continue
		}
		resp, ok := v.(request.Response)
		if !ok {
			c.log.Error("wscomms: frame is not a Response", "type", fmt.Sprintf("%T", v))
			continue
		}

		c.pendingMu.Lock()
		entry, ok := c.pending[resp.ResponseID()]
		if ok && entry.oneShot {
			delete(c.pending, resp.ResponseID())
		}
		c.pendingMu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- resp:
		default:
			c.log.Warn("wscomms: response channel full, dropping response", "id", resp.ResponseID())
		}
	}
}
