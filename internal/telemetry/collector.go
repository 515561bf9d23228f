/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/events"
)

// Collector translates playout events into Prometheus metrics. It keeps the
// playlist packages free of any metrics dependency.
type Collector struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[events.EventType]events.Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector creates a collector over the given bus.
func NewCollector(bus *events.Bus, logger zerolog.Logger) *Collector {
	return &Collector{
		bus:    bus,
		logger: logger.With().Str("component", "metrics-collector").Logger(),
		subs:   make(map[events.EventType]events.Subscriber),
	}
}

// Start subscribes to playout events and begins recording.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	handlers := map[events.EventType]func(events.Payload){
		events.EventItemStarted: func(p events.Payload) {
			ItemsStarted.WithLabelValues(asString(p["source_type"])).Inc()
			if idx, ok := p["index"].(int); ok {
				CurrentItemIndex.Set(float64(idx))
			}
		},
		events.EventSwitched: func(events.Payload) {
			SwitchesTotal.Inc()
		},
		events.EventSourceEnded: func(p events.Payload) {
			SourcesEnded.WithLabelValues(asString(p["reason"])).Inc()
		},
		events.EventListenerDisconnect: func(events.Payload) {
			ListenerDisconnects.Inc()
		},
		events.EventPlaylistExhausted: func(events.Payload) {
			PlaylistExhaustedGauge.Set(1)
		},
		events.EventWHIPSessionStart: func(events.Payload) {
			WHIPSessionsActive.Inc()
		},
		events.EventWHIPSessionEnd: func(events.Payload) {
			WHIPSessionsActive.Dec()
		},
	}

	for t, handle := range handlers {
		sub := c.bus.Subscribe(t)
		c.mu.Lock()
		c.subs[t] = sub
		c.mu.Unlock()

		c.wg.Add(1)
		go c.drain(ctx, sub, handle)
	}
	c.logger.Debug().Msg("metrics collector started")
}

func (c *Collector) drain(ctx context.Context, sub events.Subscriber, handle func(events.Payload)) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-sub:
			if !ok {
				return
			}
			handle(p)
		}
	}
}

// Close stops the collector.
func (c *Collector) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[events.EventType]events.Subscriber)
	c.mu.Unlock()
	for t, sub := range subs {
		c.bus.Unsubscribe(t, sub)
	}
	c.wg.Wait()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
