/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package enginesim provides an in-memory media engine implementation. It
// performs no media work: nodes are plain records, stream metadata is set by
// the caller, and the switcher tracks subscriptions and switch commands. It
// backs the orchestrator's dry-run mode and the package tests.
package enginesim

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
)

// Engine is a simulated media engine.
type Engine struct {
	logger zerolog.Logger

	mu      sync.Mutex
	nodeSeq int
	inputs  []*InputNode
}

// New creates a simulated engine.
func New(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "enginesim").Logger()}
}

// CreateInput creates an input node and fires OnCreate synchronously, so the
// caller can install subscriptions before any simulated frames exist.
func (e *Engine) CreateInput(ctx context.Context, cfg engine.InputConfig, hooks engine.InputHooks) (engine.InputNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("input config missing type")
	}

	n := &InputNode{id: cfg.ID, cfg: cfg, hooks: hooks}
	e.mu.Lock()
	if n.id == "" {
		n.id = fmt.Sprintf("sim-input-%d", e.nodeSeq)
	}
	e.nodeSeq++
	e.inputs = append(e.inputs, n)
	e.mu.Unlock()

	e.logger.Debug().Str("node", n.id).Str("type", string(cfg.Type)).Msg("input created")

	if hooks.OnCreate != nil {
		hooks.OnCreate(n)
	}
	return n, nil
}

// CreateSwitcher returns a simulated smooth switcher.
func (e *Engine) CreateSwitcher(ctx context.Context, cfg engine.SwitcherConfig) (engine.Switcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Switcher{id: "sim-switcher", cfg: cfg}, nil
}

// CreateAudioSignal returns a generated audio source carrying one silent
// audio stream.
func (e *Engine) CreateAudioSignal(ctx context.Context, cfg engine.AudioSignalConfig) (engine.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &SignalNode{
		id: "sim-audio-signal",
		streams: []engine.Stream{{
			Key:   engine.StreamKey{Program: 1, Rendition: "default", StreamID: 1, SourceName: "silence"},
			Media: engine.MediaAudio,
		}},
	}, nil
}

// CreateAudioGain wraps a source in a gain stage. The simulation forwards the
// source's streams unchanged.
func (e *Engine) CreateAudioGain(ctx context.Context, cfg engine.AudioGainConfig) (engine.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("audio gain requires a source")
	}
	return &SignalNode{id: "sim-audio-gain", streams: streamsOf(cfg.Source)}, nil
}

// CreateStreamKeyOverride relabels a source with a fixed stream key.
func (e *Engine) CreateStreamKeyOverride(ctx context.Context, cfg engine.StreamKeyOverrideConfig) (engine.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("stream key override requires a source")
	}
	return &SignalNode{id: fmt.Sprintf("sim-override-%s", cfg.Key.Rendition)}, nil
}

// Inputs returns every input node created so far.
func (e *Engine) Inputs() []*InputNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*InputNode, len(e.inputs))
	copy(out, e.inputs)
	return out
}

// Input returns the created input node with the given ID, or nil.
func (e *Engine) Input(id string) *InputNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.inputs {
		if n.id == id {
			return n
		}
	}
	return nil
}

// InputNode is a simulated input node. The Emit/Set methods stand in for the
// engine's media plane and drive the node's hooks.
type InputNode struct {
	id    string
	cfg   engine.InputConfig
	hooks engine.InputHooks

	mu       sync.Mutex
	streams  []engine.Stream
	closed   bool
	watchers []func(*InputNode)
}

// ID returns the node identifier.
func (n *InputNode) ID() string { return n.id }

// Config returns the config the node was created with.
func (n *InputNode) Config() engine.InputConfig { return n.cfg }

// Close marks the node closed and fires OnClose. Closing twice is a no-op.
func (n *InputNode) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	if n.hooks.OnClose != nil {
		n.hooks.OnClose(n)
	}
	return nil
}

// Closed reports whether Close has been called.
func (n *InputNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// SetStreams replaces the node's stream metadata and notifies watchers
// (switchers re-run their selectors).
func (n *InputNode) SetStreams(streams []engine.Stream) {
	n.mu.Lock()
	n.streams = append([]engine.Stream(nil), streams...)
	watchers := append(([]func(*InputNode))(nil), n.watchers...)
	n.mu.Unlock()
	for _, w := range watchers {
		w(n)
	}
}

// Streams returns the current metadata.
func (n *InputNode) Streams() []engine.Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]engine.Stream(nil), n.streams...)
}

// EmitEOF fires the node's OnEOF hook.
func (n *InputNode) EmitEOF() {
	if n.hooks.OnEOF != nil {
		n.hooks.OnEOF()
	}
}

// EmitInfo fires OnInfo with the probed duration.
func (n *InputNode) EmitInfo(durationMS int64) {
	if n.hooks.OnInfo != nil {
		n.hooks.OnInfo(durationMS)
	}
}

// EmitDisconnect fires OnConnectionChange with a disconnected status.
func (n *InputNode) EmitDisconnect(sourceName string) {
	if n.hooks.OnConnectionChange != nil {
		n.hooks.OnConnectionChange(engine.ConnectionDisconnected, sourceName)
	}
}

// EmitPublish simulates an RTMP publish arriving on a listener node. When the
// OnStream hook accepts, the announced streams are appended to the node's
// metadata under the accepted keys.
func (n *InputNode) EmitPublish(app, url, streamID, name string) bool {
	if n.hooks.OnStream == nil {
		return false
	}
	accept := n.hooks.OnStream(app, url, streamID, name)
	if accept == nil {
		return false
	}
	n.mu.Lock()
	streams := append(n.streams,
		engine.Stream{Key: accept.AudioKey, Media: engine.MediaAudio},
		engine.Stream{Key: accept.VideoKey, Media: engine.MediaVideo},
	)
	n.mu.Unlock()
	n.SetStreams(streams)
	return true
}

func (n *InputNode) watch(fn func(*InputNode)) {
	n.mu.Lock()
	n.watchers = append(n.watchers, fn)
	n.mu.Unlock()
}

// SignalNode is a simulated generated source or processing node.
type SignalNode struct {
	id      string
	streams []engine.Stream
}

// ID returns the node identifier.
func (n *SignalNode) ID() string { return n.id }

// Close is a no-op for simulated processing nodes.
func (n *SignalNode) Close() error { return nil }

func streamsOf(src engine.Node) []engine.Stream {
	switch s := src.(type) {
	case *InputNode:
		return s.Streams()
	case *SignalNode:
		return append([]engine.Stream(nil), s.streams...)
	default:
		return nil
	}
}

// Switcher is a simulated smooth switcher. It records the current
// subscription set, evaluates selectors against each source's metadata, and
// records every SwitchSource command.
type Switcher struct {
	id  string
	cfg engine.SwitcherConfig

	mu       sync.Mutex
	subs     []engine.PinSubscription
	pinMap   map[string][]engine.StreamKey
	switches []string
	watched  map[engine.Node]bool
}

// ID returns the node identifier.
func (s *Switcher) ID() string { return s.id }

// Close is a no-op.
func (s *Switcher) Close() error { return nil }

// SubscribeToPins replaces the subscription set. Selectors are evaluated
// asynchronously, never from this call.
func (s *Switcher) SubscribeToPins(subs []engine.PinSubscription) error {
	s.mu.Lock()
	s.subs = append([]engine.PinSubscription(nil), subs...)
	if s.watched == nil {
		s.watched = make(map[engine.Node]bool)
	}
	for _, sub := range subs {
		if in, ok := sub.Source.(*InputNode); ok && !s.watched[sub.Source] {
			s.watched[sub.Source] = true
			in.watch(func(*InputNode) { s.Dispatch() })
		}
	}
	s.mu.Unlock()

	go s.Dispatch()
	return nil
}

// SwitchSource records a crossfade command.
func (s *Switcher) SwitchSource(pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches = append(s.switches, pin)
	return nil
}

// Dispatch re-runs every selector against its source's current metadata.
// Selectors run without the switcher lock held, mirroring the engine rule
// that shared state is never locked across callback invocation.
func (s *Switcher) Dispatch() {
	s.mu.Lock()
	subs := append([]engine.PinSubscription(nil), s.subs...)
	s.mu.Unlock()

	pinMap := make(map[string][]engine.StreamKey)
	for _, sub := range subs {
		if sub.Selector == nil {
			continue
		}
		for pin, keys := range sub.Selector(streamsOf(sub.Source)) {
			pinMap[pin] = append(pinMap[pin], keys...)
		}
	}

	s.mu.Lock()
	s.pinMap = pinMap
	s.mu.Unlock()
}

// Switches returns every pin passed to SwitchSource, in order.
func (s *Switcher) Switches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.switches...)
}

// ActivePin returns the most recent switch target, or "" if none.
func (s *Switcher) ActivePin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.switches) == 0 {
		return ""
	}
	return s.switches[len(s.switches)-1]
}

// PinMap returns the pin mapping produced by the last Dispatch.
func (s *Switcher) PinMap() map[string][]engine.StreamKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]engine.StreamKey, len(s.pinMap))
	for k, v := range s.pinMap {
		out[k] = append([]engine.StreamKey(nil), v...)
	}
	return out
}

// Subscriptions returns the current subscription count.
func (s *Switcher) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
