package wscomms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/acme/autocert"

	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

// outboxBuffer sizes a connection's outbound queue: one writer goroutine
// drains it, since gorilla's *websocket.Conn forbids concurrent writers.
const outboxBuffer = 256

// AutocertConfig configures ServerComms' optional automatic TLS via
// Let's Encrypt. Empty Hosts disables it; Start then falls back to a
// plain http.Server listener.
type AutocertConfig struct {
	Hosts    []string
	CacheDir string
}

// ServerComms exposes a Process to remote ClientComms over WebSocket: one
// upgraded connection per remote, each running its own read/dispatch and
// write loop, grounded on the teacher's net/http server lifecycle
// (internal/api/server.go's Start/Shutdown).
type ServerComms struct {
	proc     *process.Process
	addr     string
	log      *slog.Logger
	upgrader websocket.Upgrader
	autocert *AutocertConfig

	server *http.Server
}

// NewServerComms returns a ServerComms fronting proc, listening on addr
// ("host:port"). log may be nil, in which case slog.Default() is used.
// autocertCfg may be nil to serve plain ws://.
func NewServerComms(proc *process.Process, addr string, autocertCfg *AutocertConfig, log *slog.Logger) *ServerComms {
	if log == nil {
		log = slog.Default()
	}
	return &ServerComms{
		proc: proc,
		addr: addr,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		autocert: autocertCfg,
	}
}

// Start blocks serving WebSocket connections on /ws until the listener
// fails or Shutdown is called.
func (s *ServerComms) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // subscriptions hold connections open indefinitely
	}

	if s.autocert != nil && len(s.autocert.Hosts) > 0 {
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.autocert.Hosts...),
			Cache:      autocert.DirCache(s.autocert.CacheDir),
		}
		s.server.TLSConfig = mgr.TLSConfig()
		s.log.Info("starting wscomms server with autocert TLS", "addr", s.addr, "hosts", s.autocert.Hosts)
		return s.server.ListenAndServeTLS("", "")
	}

	s.log.Info("starting wscomms server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *ServerComms) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *ServerComms) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("wscomms: upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	sc := &serverConn{
		proc:   s.proc,
		conn:   conn,
		log:    s.log.With("remote", r.RemoteAddr),
		outbox: make(chan request.Response, outboxBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]context.CancelFunc),
	}
	sc.run()
}

// serverConn is one upgraded connection: a single writer goroutine
// (writeLoop) drains outbox onto the wire, and the calling goroutine
// reads and dispatches incoming requests until the connection drops.
// outbox is deliberately never closed — concurrent subscription
// forwarders keep sending on it — done signals them to stop instead.
type serverConn struct {
	proc *process.Process
	conn *websocket.Conn
	log  *slog.Logger

	outbox chan request.Response
	done   chan struct{}
	once   sync.Once

	subsMu sync.Mutex
	subs   map[string]context.CancelFunc
}

func (sc *serverConn) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.writeLoop()
	}()

	sc.readLoop()

	sc.closeDone()
	sc.cancelAllSubscriptions()
	wg.Wait()
	sc.conn.Close()
}

func (sc *serverConn) closeDone() {
	sc.once.Do(func() { close(sc.done) })
}

func (sc *serverConn) cancelAllSubscriptions() {
	sc.subsMu.Lock()
	defer sc.subsMu.Unlock()
	for id, cancel := range sc.subs {
		cancel()
		delete(sc.subs, id)
	}
}

func (sc *serverConn) writeLoop() {
	for {
		select {
		case <-sc.done:
			return
		case resp := <-sc.outbox:
			d, err := serializable.ToDict(resp)
			if err != nil {
				sc.log.Error("wscomms: encode response failed", "error", err)
				continue
			}
			if err := sc.conn.WriteJSON(d); err != nil {
				sc.log.Error("wscomms: write failed", "error", err)
				return
			}
		}
	}
}

func (sc *serverConn) sendOutbox(resp request.Response) {
	select {
	case sc.outbox <- resp:
	case <-sc.done:
	}
}

func (sc *serverConn) readLoop() {
	for {
		var raw serializable.OrderedMap
		if err := sc.conn.ReadJSON(&raw); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.log.Info("wscomms: connection closed normally")
			} else {
				sc.log.Error("wscomms: read error, closing connection", "error", err)
			}
			return
		}

		v, err := serializable.FromDict(&raw)
		if err != nil {
			sc.log.Error("wscomms: failed to decode frame", "error", err)
			continue
		}
		req, ok := v.(request.Request)
		if !ok {
			sc.log.Error("wscomms: frame is not a Request", "type", fmt.Sprintf("%T", v))
			continue
		}
		sc.dispatch(req)
	}
}

func (sc *serverConn) dispatch(req request.Request) {
	switch r := req.(type) {
	case *request.Get:
		endpoint := sc.resolveEndpoint(r.Endpoint)
		go sc.respondOnce(r.ID, func() (any, error) { return sc.proc.Get(endpoint) })
	case *request.Put:
		endpoint := sc.resolveEndpoint(r.Endpoint)
		go sc.respondOnce(r.ID, func() (any, error) { return sc.proc.Put(endpoint, r.Value) })
	case *request.Post:
		endpoint := sc.resolveEndpoint(r.Endpoint)
		go sc.respondOnce(r.ID, func() (any, error) { return sc.proc.Post(endpoint, r.Parameters) })
	case *request.Subscribe:
		sc.startSubscription(r)
	case *request.Unsubscribe:
		sc.stopSubscription(r.ID)
	default:
		sc.log.Error("wscomms: unhandled request type", "type", fmt.Sprintf("%T", req))
	}
}

// resolveEndpoint substitutes the process's own name for a leading "."
// (spec.md §4.1/§4.7: "the root '.' ... refers to the local process
// block by convention"), the convention a ClientComms relies on for its
// startup [".", "blocks", "value"] discovery Subscribe.
func (sc *serverConn) resolveEndpoint(endpoint []string) []string {
	if len(endpoint) == 0 || endpoint[0] != "." {
		return endpoint
	}
	resolved := make([]string, len(endpoint))
	copy(resolved, endpoint)
	resolved[0] = sc.proc.Name()
	return resolved
}

func (sc *serverConn) respondOnce(id string, call func() (any, error)) {
	value, err := call()
	if err != nil {
		sc.sendOutbox(&request.Error{ID: id, Message: err.Error()})
		return
	}
	sc.sendOutbox(&request.Return{ID: id, Value: value})
}

// startSubscription relays a client's wire-level Subscribe into the
// Process via SubscribeWithID, so every response forwarded back carries
// the client's own request id rather than one the Process would
// otherwise invent (process.SubscribeWithID's contract).
func (sc *serverConn) startSubscription(r *request.Subscribe) {
	ctx, cancel := context.WithCancel(context.Background())
	sc.subsMu.Lock()
	if old, exists := sc.subs[r.ID]; exists {
		old()
	}
	sc.subs[r.ID] = cancel
	sc.subsMu.Unlock()

	respChan := sc.proc.SubscribeWithID(r.ID, sc.resolveEndpoint(r.Endpoint), r.Delta)
	go func() {
		defer sc.proc.Unsubscribe(r.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sc.done:
				return
			case resp, ok := <-respChan:
				if !ok {
					return
				}
				sc.sendOutbox(resp)
			}
		}
	}()
}

func (sc *serverConn) stopSubscription(id string) {
	sc.subsMu.Lock()
	cancel, ok := sc.subs[id]
	if ok {
		delete(sc.subs, id)
	}
	sc.subsMu.Unlock()
	if ok {
		cancel()
	}
}
