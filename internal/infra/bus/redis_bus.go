// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/log"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus publishes payloads with Redis PUBLISH so subscribers in other
// processes (websocket gateways, workers) receive them.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
}

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithChannelPrefix prepends prefix to every topic.
func WithChannelPrefix(prefix string) RedisOption {
	return func(b *RedisBus) { b.prefix = prefix }
}

// NewRedisBus wraps an existing client.
func NewRedisBus(client *redis.Client, opts ...RedisOption) *RedisBus {
	b := &RedisBus{client: client, buffer: DefaultSubscriberBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DialRedisBus connects and pings before returning.
func DialRedisBus(cfg RedisConfig, opts ...RedisOption) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("bus")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis broadcaster")
	return NewRedisBus(client, opts...), nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ps := b.client.Subscribe(ctx, b.prefix+topic)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", topic, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan []byte, b.buffer), done: make(chan struct{})}
	go sub.pump(topic)
	return sub, nil
}

// Close closes the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(topic string) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			default:
				recordDrop(topic, "subscriber_full")
			}
		}
	}
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
