// Package hub implements the WebSocket fan-out: browser clients
// subscribe to (kind, target) topics and receive broadcasts the poller
// publishes. Generalised from the teacher's bare
// upgrade-and-read-loop WebSocket handler into a real subscription
// registry with bounded per-client delivery.
package hub

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/metrics"
)

// Kind identifies a client's subscription category.
type Kind string

const (
	KindCamera           Kind = "camera"
	KindChannel          Kind = "channel"
	KindNightReport      Kind = "nightreport"
	KindHistoricalStatus Kind = "historicalStatus"
)

// Topic is the exact subscription/broadcast key: a (kind, target) pair
// matched by exact string equality. Target is "loc/cam" for camera and
// nightreport, "loc/cam/chan" for channel, "*" for historicalStatus.
type Topic struct {
	Kind   Kind
	Target string
}

// Message is the tagged variant sent over the wire: {kind, target, body}.
type Message struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	Body   any    `json:"body"`
}

var subscribeRequestRE = regexp.MustCompile(`^(camera|channel|nightreport|historicalStatus)\s+[\w/*]+$`)

const (
	outboundQueueSize = 32
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

// SnapshotFunc returns the current cached snapshot for a freshly
// subscribed topic, or nil if nothing is cached yet. The hub sends
// this immediately on subscribe, before folding the client into future
// broadcasts, per the "send current state on subscribe" rule.
type SnapshotFunc func(topic Topic) any

// Hub owns the client registry and serialises all registration and
// broadcast traffic through a single goroutine, so the broadcast path
// only takes an uncontended read lock on the registry. Grounded on the teacher's bare
// internal/api/sfu_ws_handlers.go upgrade loop, generalized here into a
// real publish/subscribe registry.
type Hub struct {
	registry *fixtures.Registry
	snapshot SnapshotFunc

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastReq
	subscribe  chan subscribeReq

	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[Topic]map[*Client]struct{}

	log zerolog.Logger
}

type broadcastReq struct {
	topic Topic
	body  any
}

type subscribeReq struct {
	client *Client
	topic  Topic
	add    bool // true = subscribe; false = unsubscribe this one topic
	clear  bool // true = unsubscribe all topics for this client
}

// New constructs a Hub bound to reg for subscription validation and
// snapshot for the on-subscribe replay. The Hub keeps the reg pointer
// it is given for its lifetime; a later fixtures.Watcher reload is not
// seen by subscription validation.
func New(reg *fixtures.Registry, snapshot SnapshotFunc, log zerolog.Logger) *Hub {
	return &Hub{
		registry:   reg,
		snapshot:   snapshot,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastReq, 256),
		subscribe:  make(chan subscribeReq),
		clients:    make(map[*Client]struct{}),
		topics:     make(map[Topic]map[*Client]struct{}),
		log:        log,
	}
}

// Run drives the hub's event loop until stop is closed. Must be
// started exactly once, typically from the supervisor's goroutine set.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			metrics.HubClientsConnected.Inc()
		case c := <-h.unregister:
			h.removeClient(c)
		case req := <-h.subscribe:
			h.applySubscription(req)
		case req := <-h.broadcast:
			h.deliver(req.topic, req.body)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.clearTopicsLocked(c)
	close(c.send)
	metrics.HubClientsConnected.Dec()
}

func (h *Hub) clearTopicsLocked(c *Client) {
	for topic := range c.topics {
		if set, ok := h.topics[topic]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
			metrics.HubSubscriptionsTotal.WithLabelValues(string(topic.Kind)).Dec()
		}
		delete(c.topics, topic)
	}
}

func (h *Hub) applySubscription(req subscribeReq) {
	if req.clear {
		h.mu.Lock()
		h.clearTopicsLocked(req.client)
		h.mu.Unlock()
		return
	}

	if req.add {
		if !h.validate(req.topic) {
			h.log.Info().Str("kind", string(req.topic.Kind)).Str("target", req.topic.Target).
				Msg("hub: ignoring subscribe request for unresolvable target")
			return
		}
		h.mu.Lock()
		if h.topics[req.topic] == nil {
			h.topics[req.topic] = make(map[*Client]struct{})
		}
		h.topics[req.topic][req.client] = struct{}{}
		req.client.topics[req.topic] = struct{}{}
		h.mu.Unlock()
		metrics.HubSubscriptionsTotal.WithLabelValues(string(req.topic.Kind)).Inc()

		if h.snapshot != nil {
			req.client.deliver(Message{Kind: req.topic.Kind, Target: req.topic.Target, Body: h.snapshot(req.topic)})
		}
		return
	}

	h.mu.Lock()
	if set, ok := h.topics[req.topic]; ok {
		if _, had := set[req.client]; had {
			delete(set, req.client)
			if len(set) == 0 {
				delete(h.topics, req.topic)
			}
			delete(req.client.topics, req.topic)
			metrics.HubSubscriptionsTotal.WithLabelValues(string(req.topic.Kind)).Dec()
		}
	}
	h.mu.Unlock()
}

// validate enforces the fixtures-resolution rule shared with the HTTP
// boundary: the location must exist, the camera must exist and be
// online, and (for channel targets) the channel must exist.
func (h *Hub) validate(t Topic) bool {
	if t.Kind == KindHistoricalStatus {
		return t.Target == "*"
	}
	loc, cam, chan_ := splitTarget(t.Target)
	channel := ""
	if t.Kind == KindChannel {
		channel = chan_
	}
	_, _, _, ok := h.registry.Resolve(loc, cam, channel)
	return ok
}

func splitTarget(target string) (loc, cam, channel string) {
	parts := strings.SplitN(target, "/", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return target, "", ""
	}
}

// CameraTarget builds the "loc/cam" target string for camera and
// nightreport subscriptions.
func CameraTarget(location, camera string) string {
	return location + "/" + camera
}

// ChannelTarget builds the "loc/cam/chan" target string for channel
// subscriptions.
func ChannelTarget(location, camera, channel string) string {
	return location + "/" + camera + "/" + channel
}

// Broadcast publishes body to every client subscribed to topic. Safe
// to call from any goroutine (the poller calls it). It only enqueues
// onto the hub's internal 256-entry channel, blocking only while that
// channel is full; per-client delivery is non-blocking (drop-on-full),
// so a slow client never stalls the poller.
func (h *Hub) Broadcast(topic Topic, body any) {
	h.broadcast <- broadcastReq{topic: topic, body: body}
}

func (h *Hub) deliver(topic Topic, body any) {
	h.mu.RLock()
	subscribers := h.topics[topic]
	targets := make([]*Client, 0, len(subscribers))
	for c := range subscribers {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	metrics.PollBroadcastsTotal.WithLabelValues(string(topic.Kind)).Inc()

	message := Message{Kind: topic.Kind, Target: topic.Target, Body: body}
	for _, c := range targets {
		if !c.deliver(message) {
			h.log.Warn().Str("kind", string(topic.Kind)).Str("target", topic.Target).
				Msg("hub: client outbound queue full, dropping client")
			metrics.HubClientsDroppedTotal.Inc()
			go func(c *Client) { h.unregister <- c }(c)
		}
	}
}

// Client wraps one WebSocket connection and its active subscriptions.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[Topic]struct{}
	log    zerolog.Logger
}

// NewClient registers a fresh connection with the hub and returns the
// Client handle used to drive its read/write pumps. The caller must
// start both ReadPump and WritePump in their own goroutines.
func NewClient(h *Hub, conn *websocket.Conn, log zerolog.Logger) *Client {
	c := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, outboundQueueSize),
		topics: make(map[Topic]struct{}),
		log:    log,
	}
	h.register <- c
	return c
}

// ID returns the client's server-assigned identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) deliver(message Message) bool {
	data, err := json.Marshal(message)
	if err != nil {
		c.log.Error().Err(err).Msg("hub: failed to marshal message for client")
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// serviceMsg is the client->server control frame.
type serviceMsg struct {
	ClientID    string `json:"clientID"`
	MessageType string `json:"messageType"`
	Message     string `json:"message"`
}

// ReadPump sends the assigned client_id as the first text frame, then
// consumes subscription control frames until the connection closes or
// errors. Must run in its own goroutine; blocks.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(c.id)); err != nil {
		return
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg serviceMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Info().Err(err).Msg("hub: ignoring malformed client frame")
			continue
		}
		if msg.MessageType != "service" {
			continue
		}

		c.handleServiceMessage(msg.Message)
	}
}

func (c *Client) handleServiceMessage(message string) {
	message = strings.TrimSpace(message)

	if message == "unsubscribe" {
		c.hub.subscribe <- subscribeReq{client: c, clear: true}
		return
	}

	rest, ok := strings.CutPrefix(message, "subscribe ")
	if !ok {
		c.log.Info().Str("message", message).Msg("hub: ignoring unrecognised service message")
		return
	}

	rest = strings.TrimSpace(rest)
	if !subscribeRequestRE.MatchString(rest) {
		c.log.Info().Str("message", message).Msg("hub: ignoring malformed subscribe request")
		return
	}

	kind, target, _ := strings.Cut(rest, " ")
	c.hub.subscribe <- subscribeReq{client: c, topic: Topic{Kind: Kind(kind), Target: target}, add: true}
}

// WritePump drains the client's outbound queue to the socket and sends
// periodic pings. Must run in its own goroutine; blocks until send is
// closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

