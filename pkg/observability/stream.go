package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// SubscribeMessage represents a subscription request from a client
type SubscribeMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types,omitempty"`
}

// EventMessage represents an event sent to clients
type EventMessage struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id,omitempty"`
	UnitID    string          `json:"unit_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventStream relays hub events to WebSocket clients watching a run live.
type EventStream struct {
	hub     *telemetry.Hub
	metrics *Metrics
	logger  *logging.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	upgrader    websocket.Upgrader
}

type subscriber struct {
	conn       *websocket.Conn
	eventTypes map[string]bool // Filter for specific event types
	subscribed bool
	send       chan EventMessage
	mu         sync.RWMutex
	writeMu    sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventStream creates a stream over hub. Call Run to start relaying.
func NewEventStream(hub *telemetry.Hub, metrics *Metrics, logger *logging.Logger) *EventStream {
	return &EventStream{
		hub:         hub,
		metrics:     metrics,
		logger:      logging.OrNop(logger),
		subscribers: make(map[*subscriber]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket connections
func (s *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade WebSocket connection", slog.String("error", err.Error()))
		return
	}

	// The request context ends once the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		conn:       conn,
		eventTypes: make(map[string]bool),
		send:       make(chan EventMessage, 100),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.mu.Lock()
	s.subscribers[sub] = true
	s.mu.Unlock()

	s.logger.Debug("event stream client connected", slog.String("remote_addr", r.RemoteAddr))
	if s.metrics != nil {
		s.metrics.StreamConnections.Inc()
	}

	go sub.writePump(s.metrics)
	go s.readPump(sub)
}

func (s *EventStream) readPump(sub *subscriber) {
	defer func() {
		s.removeSubscriber(sub)
		sub.writeMu.Lock()
		sub.conn.Close()
		sub.writeMu.Unlock()
		if s.metrics != nil {
			s.metrics.StreamConnections.Dec()
		}
	}()

	sub.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg SubscribeMessage
		if err := sub.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("event stream read error", slog.String("error", err.Error()))
			}
			return
		}
		switch msg.Action {
		case "subscribe":
			sub.mu.Lock()
			sub.subscribed = true
			for _, eventType := range msg.EventTypes {
				sub.eventTypes[eventType] = true
			}
			sub.mu.Unlock()
		case "unsubscribe":
			sub.mu.Lock()
			sub.subscribed = false
			sub.eventTypes = make(map[string]bool)
			sub.mu.Unlock()
		default:
			s.logger.Warn("unknown event stream action", slog.String("action", msg.Action))
		}
	}
}

func (sub *subscriber) writePump(metrics *Metrics) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		sub.cancel()
	}()

	for {
		select {
		case event, ok := <-sub.send:
			if !ok {
				sub.writeMu.Lock()
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				sub.writeMu.Unlock()
				return
			}

			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := sub.conn.WriteJSON(event)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}
			if metrics != nil {
				metrics.StreamMessagesSent.Inc()
			}

		case <-ticker.C:
			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := sub.conn.WriteMessage(websocket.PingMessage, nil)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-sub.ctx.Done():
			return
		}
	}
}

// Run relays hub events to subscribers until ctx is done or the hub closes.
func (s *EventStream) Run(ctx context.Context) {
	if s.hub == nil {
		return
	}
	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *EventStream) broadcast(ev telemetry.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		s.logger.Error("failed to marshal event data",
			slog.String("error", err.Error()),
			slog.String("event_type", string(ev.Type)),
		)
		return
	}
	msg := EventMessage{
		Type:      string(ev.Type),
		RunID:     ev.RunID,
		UnitID:    ev.UnitID,
		Timestamp: ev.Timestamp,
		Data:      data,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subscribers {
		sub.mu.RLock()
		interested := sub.subscribed && (len(sub.eventTypes) == 0 || sub.eventTypes[msg.Type])
		sub.mu.RUnlock()
		if !interested {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			s.logger.Warn("event stream backpressure, dropping event", slog.String("event_type", msg.Type))
			if s.metrics != nil {
				s.metrics.StreamDrops.Inc()
			}
		}
	}
}

func (s *EventStream) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[sub] {
		delete(s.subscribers, sub)
		close(sub.send)
	}
}

// ActiveConnections returns the number of active WebSocket connections
func (s *EventStream) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Shutdown closes every connection.
func (s *EventStream) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		sub.cancel()
		sub.conn.Close()
		close(sub.send)
	}
	s.subscribers = make(map[*subscriber]bool)
}
