package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const fanoutChannel = "realtime:fanout"

// Broker carries encoded frames to every process that may hold room members.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// LocalBroker delivers straight to the in-process hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker { return &LocalBroker{hub: hub} }

func (b *LocalBroker) Publish(ctx context.Context, room string, payload []byte) error {
	b.hub.Deliver(room, payload)
	return nil
}

type frame struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBroker fans frames out over Redis pub/sub. Every process runs Listen
// and delivers to its own hub, including the publisher.
type RedisBroker struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBroker(rdb *redis.Client, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{rdb: rdb, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	msg, err := json.Marshal(frame{Room: room, Payload: payload})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, fanoutChannel, msg).Err()
}

// Listen delivers published frames to hub until ctx is done.
func (b *RedisBroker) Listen(ctx context.Context, hub *Hub) {
	sub := b.rdb.Subscribe(ctx, fanoutChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.log.Warn("dropping malformed realtime frame", "err", err)
				continue
			}
			hub.Deliver(f.Room, f.Payload)
		}
	}
}

// Publisher encodes events and hands them to a Broker. It satisfies the
// broadcaster and notifier interfaces of the domain services.
type Publisher struct {
	broker Broker
}

func NewPublisher(b Broker) *Publisher { return &Publisher{broker: b} }

func (p *Publisher) Publish(ctx context.Context, room, eventType string, data any) error {
	payload, err := encode(eventType, data, "")
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, room, payload)
}

func (p *Publisher) Notify(ctx context.Context, accountID, eventType string, data any) error {
	return p.Publish(ctx, UserRoom(accountID), eventType, data)
}
