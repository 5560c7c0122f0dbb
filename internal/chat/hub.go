package chat

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventsChannel is the Redis channel every server instance publishes to and
// subscribes on, so a recipient connected to another instance still gets pushed.
const EventsChannel = "dm-events"

// Hub keeps the WebSocket clients of this instance and routes events to the
// users they concern. Run is the only goroutine that touches clients.
type Hub struct {
	clients   map[*Client]bool
	broadcast chan []byte // From Redis -> Clients
	joins     chan *Client
	leaves    chan *Client
	publish   chan Event // Handlers -> Redis
	redis     *redis.Client
	log       zerolog.Logger
	done      chan struct{}
}

func NewHub(redisClient *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		broadcast: make(chan []byte),
		joins:     make(chan *Client),
		leaves:    make(chan *Client),
		clients:   make(map[*Client]bool),
		publish:   make(chan Event, 64),
		redis:     redisClient,
		log:       log.With().Str("component", "chat.hub").Logger(),
		done:      make(chan struct{}),
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// Notify queues an event for fan-out. It never blocks the request path; if
// the queue is full the event is dropped and peers catch up on their next poll.
func (h *Hub) Notify(ev Event) {
	select {
	case h.publish <- ev:
	default:
		h.log.Warn().Str("type", ev.Kind).Msg("publish queue full, dropping event")
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return

		case client := <-h.joins:
			h.clients[client] = true

		case client := <-h.leaves:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}

		case ev := <-h.publish:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("encode event")
				continue
			}
			if err := h.redis.Publish(ctx, EventsChannel, payload).Err(); err != nil {
				h.log.Error().Err(err).Msg("redis publish")
			}

		case payload := <-h.broadcast:
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				h.log.Warn().Err(err).Msg("dropping malformed event")
				continue
			}
			h.route(ev, payload)
		}
	}
}

func (h *Hub) route(ev Event, payload []byte) {
	targets := make(map[string]bool)
	for _, id := range ev.Targets() {
		targets[id] = true
	}
	for client := range h.clients {
		if !targets[client.UserID] {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

// SubscribeToRedis listens for events published by any instance, this one included.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, EventsChannel)
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
			select {
			case h.broadcast <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}
