// Package bus carries relay events between instances when presence is
// shared. A connection id is owned by exactly one instance; events for a
// connection homed elsewhere are published to that instance's channel.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "relay:bus:"

// Handler is invoked for every envelope addressed to the local instance.
type Handler func(connId string, payload []byte)

type Bus interface {
	Publish(ctx context.Context, instanceId, connId string, payload []byte) error
	Subscribe(ctx context.Context, instanceId string, h Handler) error
	Close() error
}

type envelope struct {
	ConnId  string          `json:"conn_id"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus routes envelopes between relay instances over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	sub    *redis.PubSub
}

func NewRedisBus(redisURL string) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, instanceId, connId string, payload []byte) error {
	data, err := json.Marshal(envelope{ConnId: connId, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, channelPrefix+instanceId, data).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, instanceId string, h Handler) error {
	if b.sub != nil {
		return fmt.Errorf("bus already subscribed")
	}

	b.sub = b.client.Subscribe(ctx, channelPrefix+instanceId)
	// force the subscription before returning so no events are missed
	if _, err := b.sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		for msg := range b.sub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			h(env.ConnId, env.Payload)
		}
	}()

	return nil
}

func (b *RedisBus) Close() error {
	if b.sub != nil {
		b.sub.Close()
	}
	return b.client.Close()
}
