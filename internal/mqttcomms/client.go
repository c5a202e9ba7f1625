// Package mqttcomms implements an alternate ClientComms/ServerComms
// transport over MQTT, using two fixed topics and paho.golang's
// autopaho connection manager for reconnect-with-resubscribe (spec.md
// §4.7), grounded on the teacher's internal/mqtt publisher/subscriber
// pair.
package mqttcomms

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/request"
	"github.com/blockmesh/process/internal/serializable"
)

const requestTimeout = 30 * time.Second

type pendingEntry struct {
	ch      chan request.Response
	oneShot bool
}

// ClientComms satisfies process.ClientComms over MQTT: requests publish
// to cfg's request topic, responses arrive on the response topic and
// route to their waiting caller by the wire "id" field, exactly as
// wscomms.ClientComms does over a WebSocket frame stream.
type ClientComms struct {
	cfg  Config
	log  *slog.Logger
	cm   *autopaho.ConnectionManager
	done chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry
}

// Dial connects to cfg.Broker, subscribes to cfg's response topic,
// registers the resulting ClientComms on proc under commsID, and sends
// the startup discovery Subscribe for [".", "blocks", "value"] (spec.md
// §4.7), routing every response into proc.UpdateBlockList(commsID, ...).
// It blocks until the initial connection succeeds, ctx expires, or 30
// seconds pass; if not yet connected it logs a warning and returns
// anyway, and autopaho keeps retrying in the background, mirroring the
// teacher's Publisher.Start. log may be nil, in which case slog.Default() is used.
func Dial(ctx context.Context, proc *process.Process, commsID string, cfg Config, log *slog.Logger) (*ClientComms, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &ClientComms{cfg: cfg, log: log, done: make(chan struct{}), pending: make(map[string]*pendingEntry)}

	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, &TransportError{Op: "parse broker url", Target: cfg.Broker, Err: err}
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: cfg.Username,
		ConnectPassword: []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			log.Info("mqttcomms client connected", "broker", cfg.Broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: cfg.responseTopic(), QoS: 0}},
			}); err != nil {
				log.Error("mqttcomms client resubscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			log.Warn("mqttcomms client connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, &TransportError{Op: "connect", Target: cfg.Broker, Err: err}
	}
	c.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if pr.Packet.Topic != cfg.responseTopic() {
			return true, nil
		}
		c.handleResponse(pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		log.Warn("mqttcomms client initial connection timed out, will retry in background", "error", err)
	}

	proc.RegisterClientComms(commsID, c)
	c.startBlockDiscovery(proc, commsID)
	return c, nil
}

// Close disconnects from the broker.
func (c *ClientComms) Close(ctx context.Context) error {
	close(c.done)
	return c.cm.Disconnect(ctx)
}

// startBlockDiscovery issues the startup Subscribe for [".", "blocks",
// "value"] and feeds every decoded block list into
// proc.UpdateBlockList(commsID, ...) on its own goroutine, mirroring
// wscomms.ClientComms.startBlockDiscovery.
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
					c.log.Error("mqttcomms: blocks discovery value", "error", err)
					continue
				}
				proc.UpdateBlockList(commsID, names)
			}
		}
	})
}

func (c *ClientComms) handleResponse(payload []byte) {
	d := serializable.NewOrderedMap()
	if err := d.UnmarshalJSON(payload); err != nil {
		c.log.Error("mqttcomms: failed to decode response payload", "error", err)
		return
	}
	v, err := serializable.FromDict(d)
	if err != nil {
		c.log.Error("mqttcomms: failed to decode response", "error", err)
		return
	}
	resp, ok := v.(request.Response)
	if !ok {
		c.log.Error("mqttcomms: payload is not a Response", "type", fmt.Sprintf("%T", v))
		return
	}

	c.pendingMu.Lock()
	entry, ok := c.pending[resp.ResponseID()]
	if ok && entry.oneShot {
		delete(c.pending, resp.ResponseID())
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case entry.ch <- resp:
	default:
		c.log.Warn("mqttcomms: response channel full, dropping response", "id", resp.ResponseID())
	}
}

func (c *ClientComms) publish(ctx context.Context, req request.Request) error {
	d, err := serializable.ToDict(req)
	if err != nil {
		return fmt.Errorf("mqttcomms: encode request: %w", err)
	}
	payload, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("mqttcomms: marshal request: %w", err)
	}
	_, err = c.cm.Publish(ctx, &paho.Publish{
		Topic:   c.cfg.requestTopic(),
		Payload: payload,
		QoS:     0,
	})
	return err
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

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.publish(ctx, req); err != nil {
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
		return nil, fmt.Errorf("mqttcomms: unexpected response type %T", resp)
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
// channel fed by every subsequent response (process.ClientComms).
func (c *ClientComms) Subscribe(endpoint []string, delta bool) (id string, respChan chan request.Response) {
	id = request.NewID()
	respChan = make(chan request.Response, 64)
	c.pendingMu.Lock()
	c.pending[id] = &pendingEntry{ch: respChan, oneShot: false}
	c.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.publish(ctx, &request.Subscribe{ID: id, Endpoint: endpoint, Delta: delta}); err != nil {
		c.log.Error("mqttcomms: subscribe publish failed", "endpoint", endpoint, "error", err)
	}
	return id, respChan
}

// Unsubscribe cancels the subscription registered under id
// (process.ClientComms).
func (c *ClientComms) Unsubscribe(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := c.publish(ctx, &request.Unsubscribe{ID: id}); err != nil {
		c.log.Error("mqttcomms: unsubscribe publish failed", "id", id, "error", err)
	}
}
