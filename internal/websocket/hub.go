package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel carries session events between gateway instances.
const DefaultRedisChannel = "gateway_session_events"

// Hub fans session events out to the WebSocket clients watching each session.
// With Redis configured, events are also relayed to and from other instances.
type Hub struct {
	// SessionID -> clients watching it
	clients map[string][]*Client
	mu      sync.RWMutex

	rdb     *redis.Client
	channel string
	// origin tags relayed messages so an instance ignores its own echo.
	origin string

	logger logger.ILogger
}

type relayMessage struct {
	Origin string              `json:"origin"`
	Event  events.SessionEvent `json:"event"`
}

func NewHub(rdb *redis.Client, channel string, log logger.ILogger) *Hub {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Hub{
		clients: make(map[string][]*Client),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  log,
	}
}

// Run relays events from other instances until ctx is done. Without Redis it
// just waits.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		<-ctx.Done()
		return
	}
	h.subscribeToRedis(ctx)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
	h.mu.Unlock()
	h.logger.Info(logger.ModuleWS, "Client registered", map[string]interface{}{"session_id": client.SessionID})
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.SessionID]) == 0 {
		delete(h.clients, client.SessionID)
		h.logger.Info(logger.ModuleWS, "Session has no more watchers", map[string]interface{}{"session_id": client.SessionID})
	}
}

// Watchers returns how many local clients follow sessionID.
func (h *Hub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Publish delivers a session event locally and relays it to other instances.
// Other event types are ignored.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	sessionEvent, ok := event.(events.SessionEvent)
	if !ok {
		return nil
	}

	h.fanOut(sessionEvent)

	if h.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(relayMessage{Origin: h.origin, Event: sessionEvent})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, h.channel, payload).Err()
}

func (h *Hub) fanOut(event events.SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[event.SessionID] {
		select {
		case client.Send <- event:
		default:
			h.logger.Warn(logger.ModuleWS, "Client Send buffer full, dropping event", map[string]interface{}{
				"session_id": event.SessionID,
				"status":     event.Status,
			})
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				h.logger.Warn(logger.ModuleWS, "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if relayed.Origin == h.origin {
				continue
			}
			h.fanOut(relayed.Event)
		}
	}
}
