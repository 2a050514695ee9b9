// Package bus carries room traffic between relay instances over Redis
// pub/sub. Rooms stay local to an instance; the bus only fans lines out to
// rooms with the same code that are live elsewhere.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/room"
)

const channelPrefix = "room:"

// Message is the JSON document published for every locally relayed line.
type Message struct {
	Instance string      `json:"instance"`
	Room     string      `json:"room"`
	Payload  string      `json:"payload"`
	Origin   room.PeerID `json:"origin"`
}

// Deliverer accepts envelopes for rooms that may be live locally.
type Deliverer interface {
	Deliver(code string, env room.Envelope) bool
}

// RedisBus publishes locally relayed lines on per-room channels and feeds
// lines from other instances into local rooms.
type RedisBus struct {
	rdb      *redis.Client
	instance string
	log      *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, addr string, db int, instance string, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: ping %s: %w", addr, err)
	}
	return &RedisBus{rdb: rdb, instance: instance, log: log}, nil
}

// Forward publishes a locally relayed line for other instances.
func (b *RedisBus) Forward(ctx context.Context, code string, env room.Envelope) error {
	raw, err := b.encode(code, env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel(code), raw).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	metrics.BusMessages.WithLabelValues("out").Inc()
	return nil
}

// Subscribe listens to every room channel and hands foreign messages to d
// until ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, d Deliverer) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	defer func() { _ = pubsub.Close() }()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(d, []byte(msg.Payload))
		}
	}
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func (b *RedisBus) encode(code string, env room.Envelope) ([]byte, error) {
	raw, err := json.Marshal(Message{
		Instance: b.instance,
		Room:     code,
		Payload:  env.Payload,
		Origin:   env.Origin,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: encode: %w", err)
	}
	return raw, nil
}

var errMissingRoom = errors.New("bus: message without room")

func (b *RedisBus) decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("bus: decode: %w", err)
	}
	if m.Room == "" {
		return Message{}, errMissingRoom
	}
	return m, nil
}

// handle delivers one bus message. Messages published by this instance were
// already fanned out locally and are dropped.
func (b *RedisBus) handle(d Deliverer, raw []byte) bool {
	m, err := b.decode(raw)
	if err != nil {
		b.log.Warn("bus.decode", "err", err)
		return false
	}
	if m.Instance == b.instance {
		return false
	}

	metrics.BusMessages.WithLabelValues("in").Inc()
	return d.Deliver(m.Room, room.Envelope{Payload: m.Payload, Origin: m.Origin})
}

// channel namespacing for room pub/sub
func channel(code string) string { return channelPrefix + code }
