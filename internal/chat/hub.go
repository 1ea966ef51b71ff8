package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"tribechat/internal/telemetry"
)

type roomRequest struct {
	client  *Client
	tribeID int
}

type outboundEvent struct {
	tribeID int
	payload []byte
	kind    string
}

// Hub owns the room registry and runs the single coordination loop: connect,
// disconnect, join/leave, and fanout of relay events to room members. No
// connection's progress blocks another's — the pumps talk to the hub over
// channels and slow receivers get dropped, not waited on.
type Hub struct {
	clients  map[*Client]bool
	registry *RoomRegistry
	relay    Relay
	log      *slog.Logger

	Register   chan *Client
	Unregister chan *Client
	Join       chan roomRequest
	Leave      chan roomRequest

	publish chan outboundEvent
}

func NewHub(relay Relay, log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		registry:   NewRoomRegistry(),
		relay:      relay,
		log:        log,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Join:       make(chan roomRequest),
		Leave:      make(chan roomRequest),
		publish:    make(chan outboundEvent, 64),
	}
}

// Registry exposes the room state for tests.
func (h *Hub) Registry() *RoomRegistry {
	return h.registry
}

// Broadcast publishes an envelope to the tribe's room via the relay.
// Best-effort by design: a failed publish is logged, never surfaced — the
// store already holds the truth and clients converge on their next fetch.
func (h *Hub) Broadcast(tribeID int, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", "type", env.Type, "err", err)
		return
	}
	h.publish <- outboundEvent{tribeID: tribeID, payload: payload, kind: env.Type}
}

// Run is the hub engine. It must run in its own goroutine before any
// connection registers.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.clients[client] = true
			telemetry.ActiveConnections.Inc()

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case req := <-h.Join:
			h.registry.Join(req.client, req.tribeID)

		case req := <-h.Leave:
			h.registry.Leave(req.client, req.tribeID)

		case out := <-h.publish:
			if err := h.relay.Publish(ctx, out.tribeID, out.payload); err != nil {
				h.log.Warn("relay publish failed", "tribe", out.tribeID, "err", err)
				continue
			}
			telemetry.EventsRelayed.WithLabelValues(out.kind).Inc()

		case ev := <-h.relay.Events():
			h.fanout(ev)
		}
	}
}

// fanout delivers a relay event to every connection in the room, the
// sender's own other tabs included. A connection whose buffer is full is
// dropped rather than blocking the loop; it will reconnect and refetch.
func (h *Hub) fanout(ev RoomEvent) {
	for _, client := range h.registry.Members(ev.TribeID) {
		select {
		case client.Send <- ev.Payload:
		default:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				telemetry.SlowClientsDropped.Inc()
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.registry.Drop(client)
	close(client.Send)
	telemetry.ActiveConnections.Dec()
}
