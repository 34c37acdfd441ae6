package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRelayChannel = "jobinbox:hub"

type envelope struct {
	Origin  string          `json:"origin"`
	Owner   string          `json:"owner,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay fans deliveries out to hubs on other instances through a Redis
// pub/sub channel.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	hub     *Hub
	logger  *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		logger:  logger,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, owner string, data []byte) error {
	msg, err := json.Marshal(envelope{Origin: r.origin, Owner: owner, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, msg).Err()
}

// Run 订阅频道，把其他实例的消息投递到本地连接，直到 ctx 取消
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("Hub relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn("Dropping malformed relay message", zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	kind := kindOf(env.Payload)
	if env.Owner == "" {
		r.hub.BroadcastLocal(ctx, env.Payload, kind)
		return
	}
	r.hub.DeliverLocal(ctx, env.Owner, env.Payload, kind)
}
