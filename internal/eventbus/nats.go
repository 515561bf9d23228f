/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/events"
)

// subjectPrefix namespaces the exported NATS subjects.
const subjectPrefix = "grimnirswitch.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge mirrors every event published on the local bus onto NATS
// subjects, one subject per event type.
type NATSBridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	mu   sync.Mutex
	subs map[events.EventType]events.Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSBridge connects to the NATS server.
func NewNATSBridge(cfg NATSConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	log := logger.With().Str("component", "nats-bridge").Logger()

	opts := []nats.Option{
		nats.Name("grimnirswitch-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBridge{
		conn:   conn,
		bus:    bus,
		logger: log,
		nodeID: nodeID,
		subs:   make(map[events.EventType]events.Subscriber),
	}, nil
}

// Start subscribes to every local event type and begins forwarding.
func (b *NATSBridge) Start() {
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
	b.logger.Info().Msg("nats event export started")
}

func (b *NATSBridge) forward(ctx context.Context, t events.EventType, sub events.Subscriber) {
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
			if err := b.conn.Publish(subjectPrefix+string(t), data); err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(t)).Msg("publish to nats failed")
			}
		}
	}
}

// Close stops forwarding, flushes outstanding messages, and drains the
// connection.
func (b *NATSBridge) Close() error {
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
	if err := b.conn.Flush(); err != nil {
		b.logger.Warn().Err(err).Msg("nats flush failed")
	}
	return b.conn.Drain()
}
