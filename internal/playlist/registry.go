/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
)

// ListenerProtocol names the protocols whose sockets are shared between
// playlist items.
type ListenerProtocol string

const (
	ListenerProtoSRT  ListenerProtocol = "srt"
	ListenerProtoRTMP ListenerProtocol = "rtmp"
)

// DisconnectFunc is invoked when a logical publisher on a shared listener
// disconnects. sourceName identifies the publisher ("app/stream" for RTMP).
type DisconnectFunc func(sourceName string)

type listenerKey struct {
	proto ListenerProtocol
	port  int
}

type listenerEntry struct {
	node engine.InputNode

	mu           sync.Mutex
	onDisconnect map[string]DisconnectFunc
}

// fanout delivers one engine-level disconnect to every attached handle.
// Callbacks run without the entry lock held.
func (e *listenerEntry) fanout(sourceName string) {
	e.mu.Lock()
	cbs := make([]DisconnectFunc, 0, len(e.onDisconnect))
	for _, cb := range e.onDisconnect {
		cbs = append(cbs, cb)
	}
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(sourceName)
	}
}

// ListenerRegistry owns shared listener-mode input nodes, one per
// (protocol, port). Nodes live for the registry's lifetime; playlist slots
// hold non-owning handles plus a disconnect subscription.
type ListenerRegistry struct {
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[listenerKey]*listenerEntry
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry(logger zerolog.Logger) *ListenerRegistry {
	return &ListenerRegistry{
		logger:  logger.With().Str("component", "listener-registry").Logger(),
		entries: make(map[listenerKey]*listenerEntry),
	}
}

// Ensure creates the listener node for (proto, port) if absent. create
// receives the registry's fan-out function, which the caller must wire into
// the node's disconnect hook. Ensure is idempotent.
func (r *ListenerRegistry) Ensure(proto ListenerProtocol, port int, create func(fanout DisconnectFunc) (engine.InputNode, error)) error {
	key := listenerKey{proto: proto, port: port}

	r.mu.Lock()
	if _, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return nil
	}
	entry := &listenerEntry{onDisconnect: make(map[string]DisconnectFunc)}
	r.entries[key] = entry
	r.mu.Unlock()

	node, err := create(entry.fanout)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, key)
		r.mu.Unlock()
		return fmt.Errorf("create %s listener on port %d: %w", proto, port, err)
	}

	entry.node = node
	r.logger.Info().Str("proto", string(proto)).Int("port", port).Msg("listener created")
	return nil
}

// Get returns the shared node for (proto, port).
func (r *ListenerRegistry) Get(proto ListenerProtocol, port int) (engine.InputNode, error) {
	r.mu.Lock()
	entry, ok := r.entries[listenerKey{proto: proto, port: port}]
	r.mu.Unlock()
	if !ok || entry.node == nil {
		return nil, fmt.Errorf("%w: %s port %d", ErrNoListener, proto, port)
	}
	return entry.node, nil
}

// Attach registers a per-handle disconnect callback.
func (r *ListenerRegistry) Attach(proto ListenerProtocol, port int, handleID string, fn DisconnectFunc) error {
	r.mu.Lock()
	entry, ok := r.entries[listenerKey{proto: proto, port: port}]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s port %d", ErrNoListener, proto, port)
	}

	entry.mu.Lock()
	entry.onDisconnect[handleID] = fn
	entry.mu.Unlock()
	return nil
}

// Detach removes a per-handle callback; no-op if absent.
func (r *ListenerRegistry) Detach(proto ListenerProtocol, port int, handleID string) {
	r.mu.Lock()
	entry, ok := r.entries[listenerKey{proto: proto, port: port}]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	delete(entry.onDisconnect, handleID)
	entry.mu.Unlock()
}

// Attached returns the number of disconnect callbacks registered for
// (proto, port).
func (r *ListenerRegistry) Attached(proto ListenerProtocol, port int) int {
	r.mu.Lock()
	entry, ok := r.entries[listenerKey{proto: proto, port: port}]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.onDisconnect)
}

// Close tears down every listener node.
func (r *ListenerRegistry) Close() error {
	r.mu.Lock()
	entries := make([]*listenerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[listenerKey]*listenerEntry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if e.node == nil {
			continue
		}
		if err := e.node.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
