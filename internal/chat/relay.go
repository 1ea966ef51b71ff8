package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RoomEvent is a payload that arrived on a tribe's channel, from this
// process or any other server instance.
type RoomEvent struct {
	TribeID int
	Payload []byte
}

// Relay is the best-effort fanout transport between server instances.
// Publish is at-most-once: no ack, no retry, no persistence of missed
// events. Clients that miss one catch up on their next history fetch.
type Relay interface {
	Publish(ctx context.Context, tribeID int, payload []byte) error
	Events() <-chan RoomEvent
}

const relayChannelPattern = "tribe:*:events"

func relayChannel(tribeID int) string {
	return fmt.Sprintf("tribe:%d:events", tribeID)
}

func tribeFromChannel(channel string) (int, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed relay channel %q", channel)
	}
	return strconv.Atoi(parts[1])
}

// RedisRelay fans events out over one pub/sub channel per tribe, so every
// server instance sees publishes for every room. Redis pub/sub gives no
// ordering guarantee across concurrent publishers, which is fine: clients
// order by created_at, never by arrival.
type RedisRelay struct {
	rdb    *redis.Client
	events chan RoomEvent
	log    *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, log *slog.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		events: make(chan RoomEvent, 256),
		log:    log,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, tribeID int, payload []byte) error {
	return r.rdb.Publish(ctx, relayChannel(tribeID), payload).Err()
}

func (r *RedisRelay) Events() <-chan RoomEvent {
	return r.events
}

// Run pattern-subscribes to every tribe channel and feeds the event stream
// until the context is canceled.
func (r *RedisRelay) Run(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, relayChannelPattern)
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
			tribeID, err := tribeFromChannel(msg.Channel)
			if err != nil {
				r.log.Warn("dropping relay event", "channel", msg.Channel, "err", err)
				continue
			}
			r.events <- RoomEvent{TribeID: tribeID, Payload: []byte(msg.Payload)}
		}
	}
}
