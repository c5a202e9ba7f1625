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

// ServerComms exposes a Process over MQTT's fixed request/response topic
// pair: every Request arriving on the request topic is dispatched
// against proc, and every resulting Response (including subscription
// notify rounds) is published on the response topic carrying its
// originating request's own id, so any ClientComms listening can
// correlate it — mirrored from the teacher's Publisher/connection
// manager wiring, with MessageHandler replaced by request dispatch.
type ServerComms struct {
	proc *process.Process
	cfg  Config
	log  *slog.Logger
	cm   *autopaho.ConnectionManager

	limiter *rateLimiter

	subsMu sync.Mutex
	subs   map[string]context.CancelFunc
}

// NewServerComms returns a ServerComms fronting proc over cfg. Call
// Start to connect.
func NewServerComms(proc *process.Process, cfg Config, log *slog.Logger) *ServerComms {
	if log == nil {
		log = slog.Default()
	}
	return &ServerComms{
		proc: proc,
		cfg:  cfg,
		log:  log,
		subs: make(map[string]context.CancelFunc),
	}
}

// Start connects to cfg.Broker, subscribes to the request topic, and
// dispatches inbound requests until ctx is cancelled. It blocks for the
// lifetime of ctx, mirroring the teacher's Publisher.Start.
func (s *ServerComms) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqttcomms: parse broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: s.cfg.Username,
		ConnectPassword: []byte(s.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.log.Info("mqttcomms server connected", "broker", s.cfg.Broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: s.cfg.requestTopic(), QoS: 0}},
			}); err != nil {
				s.log.Error("mqttcomms server resubscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			s.log.Warn("mqttcomms server connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttcomms: connect: %w", err)
	}
	s.cm = cm

	s.limiter = newRateLimiter(100, time.Second, s.log)
	go s.limiter.start(ctx)

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if pr.Packet.Topic != s.cfg.requestTopic() {
			return true, nil
		}
		if !s.limiter.allow() {
			return true, nil
		}
		s.handleRequest(pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		s.log.Warn("mqttcomms server initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	s.cancelAllSubscriptions()
	return cm.Disconnect(context.Background())
}

func (s *ServerComms) cancelAllSubscriptions() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
}

func (s *ServerComms) handleRequest(payload []byte) {
	d := serializable.NewOrderedMap()
	if err := d.UnmarshalJSON(payload); err != nil {
		s.log.Error("mqttcomms: failed to decode request payload", "error", err)
		return
	}
	v, err := serializable.FromDict(d)
	if err != nil {
		s.log.Error("mqttcomms: failed to decode request", "error", err)
		return
	}
	req, ok := v.(request.Request)
	if !ok {
		s.log.Error("mqttcomms: payload is not a Request", "type", fmt.Sprintf("%T", v))
		return
	}
	s.dispatch(req)
}

func (s *ServerComms) dispatch(req request.Request) {
	switch r := req.(type) {
	case *request.Get:
		endpoint := s.resolveEndpoint(r.Endpoint)
		go s.respondOnce(r.ID, func() (any, error) { return s.proc.Get(endpoint) })
	case *request.Put:
		endpoint := s.resolveEndpoint(r.Endpoint)
		go s.respondOnce(r.ID, func() (any, error) { return s.proc.Put(endpoint, r.Value) })
	case *request.Post:
		endpoint := s.resolveEndpoint(r.Endpoint)
		go s.respondOnce(r.ID, func() (any, error) { return s.proc.Post(endpoint, r.Parameters) })
	case *request.Subscribe:
		s.startSubscription(r)
	case *request.Unsubscribe:
		s.stopSubscription(r.ID)
	default:
		s.log.Error("mqttcomms: unhandled request type", "type", fmt.Sprintf("%T", req))
	}
}

// resolveEndpoint substitutes the process's own name for a leading "."
// (spec.md §4.1/§4.7), the convention a ClientComms relies on for its
// startup [".", "blocks", "value"] discovery Subscribe.
func (s *ServerComms) resolveEndpoint(endpoint []string) []string {
	if len(endpoint) == 0 || endpoint[0] != "." {
		return endpoint
	}
	resolved := make([]string, len(endpoint))
	copy(resolved, endpoint)
	resolved[0] = s.proc.Name()
	return resolved
}

func (s *ServerComms) publish(resp request.Response) {
	d, err := serializable.ToDict(resp)
	if err != nil {
		s.log.Error("mqttcomms: encode response failed", "error", err)
		return
	}
	payload, err := d.MarshalJSON()
	if err != nil {
		s.log.Error("mqttcomms: marshal response failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := s.cm.Publish(ctx, &paho.Publish{
		Topic:   s.cfg.responseTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		s.log.Error("mqttcomms: publish response failed", "error", err)
	}
}

func (s *ServerComms) respondOnce(id string, call func() (any, error)) {
	value, err := call()
	if err != nil {
		s.publish(&request.Error{ID: id, Message: err.Error()})
		return
	}
	s.publish(&request.Return{ID: id, Value: value})
}

// startSubscription relays a client's Subscribe into the Process via
// SubscribeWithID, so every forwarded response carries the client's own
// request id.
func (s *ServerComms) startSubscription(r *request.Subscribe) {
	ctx, cancel := context.WithCancel(context.Background())
	s.subsMu.Lock()
	if old, exists := s.subs[r.ID]; exists {
		old()
	}
	s.subs[r.ID] = cancel
	s.subsMu.Unlock()

	respChan := s.proc.SubscribeWithID(r.ID, s.resolveEndpoint(r.Endpoint), r.Delta)
	go func() {
		defer s.proc.Unsubscribe(r.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-respChan:
				if !ok {
					return
				}
				s.publish(resp)
			}
		}
	}()
}

func (s *ServerComms) stopSubscription(id string) {
	s.subsMu.Lock()
	cancel, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
}
