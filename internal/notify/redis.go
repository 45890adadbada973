// Package notify carries per-user notifications between server processes over
// Redis pub/sub, so a player connected to another node still hears about
// pauses, draw offers and results.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

const channelPrefix = "chess:user:"

type message struct {
	Origin    string       `json:"origin"`
	Principal string       `json:"principal"`
	Event     engine.Event `json:"event"`
}

// Deliver receives notifications published by other processes.
type Deliver func(principal string, ev engine.Event)

type RedisRelay struct {
	rdb    *redis.Client
	origin string
	log    *zap.Logger
}

// Dial connects using a redis:// URL and checks the connection.
func Dial(ctx context.Context, url string, log *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisRelay(rdb, log), nil
}

func NewRedisRelay(rdb *redis.Client, log *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, origin: uuid.NewString(), log: log.Named("notify")}
}

func channel(principal string) string { return channelPrefix + principal }

func (r *RedisRelay) Publish(ctx context.Context, principal string, ev engine.Event) error {
	payload, err := json.Marshal(message{Origin: r.origin, Principal: principal, Event: ev})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, channel(principal), payload).Err()
}

// Run subscribes to every user channel and hands foreign notifications to
// deliver until ctx is done. Messages this process published are skipped;
// they were delivered locally already.
func (r *RedisRelay) Run(ctx context.Context, deliver Deliver) error {
	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.log.Warn("bad notification payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			principal := m.Principal
			if principal == "" {
				principal = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			deliver(principal, m.Event)
		}
	}
}

func (r *RedisRelay) Close() error { return r.rdb.Close() }
