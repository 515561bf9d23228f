/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus exports playout events from the in-process bus to
// external brokers, so dashboards and downstream automation can follow the
// playlist without polling the control API.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/events"
)

// channelPrefix namespaces the exported Redis channels.
const channelPrefix = "grimnirswitch.events."

// envelope is the wire form of one exported event.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisBridge mirrors every event published on the local bus onto Redis
// pub/sub channels, one channel per event type.
type RedisBridge struct {
	client *redis.Client
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	mu   sync.Mutex
	subs map[events.EventType]events.Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(cfg RedisConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBridge{
		client: client,
		bus:    bus,
		logger: logger.With().Str("component", "redis-bridge").Logger(),
		nodeID: nodeID,
		subs:   make(map[events.EventType]events.Subscriber),
	}, nil
}

// Start subscribes to every local event type and begins forwarding. Forwarding
// stops when Close is called.
func (b *RedisBridge) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, t := range events.AllTypes() {
		sub := b.bus.Subscribe(t)
		b.mu.Lock()
		b.subs[t] = sub
		b.mu.Unlock()

		b.wg.Add(1)
		go b.forward(ctx, t, sub)
	}
	b.logger.Info().Msg("redis event export started")
}

func (b *RedisBridge) forward(ctx context.Context, t events.EventType, sub events.Subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(envelope{
				EventType: t,
				Payload:   payload,
				Timestamp: time.Now().UTC(),
				NodeID:    b.nodeID,
			})
			if err != nil {
				b.logger.Error().Err(err).Str("event_type", string(t)).Msg("marshal event")
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = b.client.Publish(pubCtx, channelPrefix+string(t), data).Err()
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(t)).Msg("publish to redis failed")
			}
		}
	}
}

// Close stops forwarding and closes the Redis client.
func (b *RedisBridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[events.EventType]events.Subscriber)
	b.mu.Unlock()
	for t, sub := range subs {
		b.bus.Unsubscribe(t, sub)
	}

	b.wg.Wait()
	return b.client.Close()
}
