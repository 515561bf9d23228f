/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
)

// DefaultCloseGrace is how long a standalone node is kept alive after its
// slot releases it, so the switcher's crossfade can drain without a glitch.
const DefaultCloseGrace = time.Second

// FileResolver maps a playlist file name to a local path the engine can
// open. Implementations may stage remote objects into a local cache.
type FileResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// prefetcher is implemented by resolvers that can stage a file ahead of use.
type prefetcher interface {
	Prefetch(ctx context.Context, name string)
}

// Binding carries everything the controller needs to subscribe a freshly
// addressable node into the switcher.
type Binding struct {
	Node   engine.InputNode
	NodeID string
	Kind   Kind
	Item   Item
	Filter KeyFilter
	// Close releases the slot's hold on the node. Idempotent; a no-op on
	// the node itself for shared listeners.
	Close func()
}

// SubscribeFunc is invoked synchronously from the engine's creation hook
// (or immediately after registry lookup for shared listeners), before any
// initial frames are dispatched.
type SubscribeFunc func(Binding)

// CreatedSource is the factory's result for one playlist item.
type CreatedSource struct {
	Node   engine.InputNode
	NodeID string
	Kind   Kind
	Filter KeyFilter
	Close  func()

	duration *durationFuture
}

// Duration blocks until the item's duration is known or the context ends.
// ok is false when the source has no bounded duration.
func (cs *CreatedSource) Duration(ctx context.Context) (time.Duration, bool, error) {
	return cs.duration.wait(ctx)
}

type durationFuture struct {
	once sync.Once
	ch   chan struct{}
	d    time.Duration
	ok   bool
}

func newDurationFuture() *durationFuture {
	return &durationFuture{ch: make(chan struct{})}
}

func (f *durationFuture) resolve(d time.Duration, ok bool) {
	f.once.Do(func() {
		f.d = d
		f.ok = ok
		close(f.ch)
	})
}

func (f *durationFuture) wait(ctx context.Context) (time.Duration, bool, error) {
	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-f.ch:
		return f.d, f.ok, nil
	}
}

// SourceFactory turns playlist items into engine input nodes, consulting the
// listener registry for shared-socket protocols.
type SourceFactory struct {
	eng        engine.Engine
	listeners  *ListenerRegistry
	logger     zerolog.Logger
	closeGrace time.Duration

	resolver     FileResolver
	onNodeClosed func(engine.InputNode)
}

// NewSourceFactory creates a factory.
func NewSourceFactory(eng engine.Engine, listeners *ListenerRegistry, logger zerolog.Logger) *SourceFactory {
	return &SourceFactory{
		eng:        eng,
		listeners:  listeners,
		logger:     logger.With().Str("component", "source-factory").Logger(),
		closeGrace: DefaultCloseGrace,
	}
}

// SetCloseGrace overrides the standalone-node teardown delay.
func (f *SourceFactory) SetCloseGrace(d time.Duration) { f.closeGrace = d }

// SetFileResolver installs a resolver for file-backed sources.
func (f *SourceFactory) SetFileResolver(r FileResolver) { f.resolver = r }

// SetNodeClosedHook installs a callback fired when any node created by this
// factory finishes closing.
func (f *SourceFactory) SetNodeClosedHook(fn func(engine.InputNode)) { f.onNodeClosed = fn }

// Prefetch asks the resolver to stage a file-backed source ahead of use.
func (f *SourceFactory) Prefetch(ctx context.Context, item Item) {
	p, ok := f.resolver.(prefetcher)
	if !ok {
		return
	}
	switch s := item.Source.(type) {
	case LocalTSFile:
		p.Prefetch(ctx, s.FileName)
	case LocalMP4File:
		p.Prefetch(ctx, s.FileName)
	case Image:
		p.Prefetch(ctx, s.FileName)
	}
}

// Create builds the source handle for item at slotIndex. subscribe runs from
// the engine's creation hook; onSourceEnd fires on EOF or disconnect, after
// the handle has released its node.
func (f *SourceFactory) Create(ctx context.Context, item Item, slotIndex int, subscribe SubscribeFunc, onSourceEnd func(reason string)) (*CreatedSource, error) {
	nodeID := fmt.Sprintf("input-%d", slotIndex)
	dur := newDurationFuture()
	kind := item.Source.Kind()
	filter := keyFilterFor(item.Source)

	created := &CreatedSource{NodeID: nodeID, Kind: kind, Filter: filter, duration: dur}

	switch src := item.Source.(type) {
	case LocalTSFile:
		fileName, err := f.resolveFile(ctx, src.FileName)
		if err != nil {
			return nil, err
		}
		f.resolveItemDuration(dur, item)
		cfg := engine.InputConfig{ID: nodeID, Type: engine.InputTSFile, FileName: fileName, BeginMS: item.Begin.Milliseconds()}
		return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, nil)

	case LocalMP4File:
		fileName, err := f.resolveFile(ctx, src.FileName)
		if err != nil {
			return nil, err
		}
		if item.Duration > 0 {
			dur.resolve(item.Duration, true)
		}
		cfg := engine.InputConfig{ID: nodeID, Type: engine.InputMP4File, FileName: fileName, BeginMS: item.Begin.Milliseconds()}
		onInfo := func(durationMS int64) {
			dur.resolve(time.Duration(durationMS)*time.Millisecond, true)
		}
		return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, onInfo)

	case SRT:
		if src.Mode == SRTCaller {
			f.resolveItemDuration(dur, item)
			cfg := engine.InputConfig{ID: nodeID, Type: engine.InputSRTCaller, IP: src.IP, Port: src.Port}
			return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, nil)
		}
		return f.createShared(ListenerProtoSRT, src.Port, "", item, created, subscribe, onSourceEnd)

	case RTMP:
		return f.createShared(ListenerProtoRTMP, src.Port, src.SourceName(), item, created, subscribe, onSourceEnd)

	case Image:
		fileName, err := f.resolveFile(ctx, src.FileName)
		if err != nil {
			return nil, err
		}
		f.resolveItemDuration(dur, item)
		cfg := engine.InputConfig{ID: nodeID, Type: engine.InputImage, FileName: fileName, Format: src.Format}
		return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, nil)

	case RTP:
		f.resolveItemDuration(dur, item)
		streams := make([]engine.RTPStream, 0, len(src.Streams))
		for _, st := range src.Streams {
			streams = append(streams, engine.RTPStream{Port: st.Port, PayloadType: st.PayloadType, Codec: st.Codec})
		}
		cfg := engine.InputConfig{ID: nodeID, Type: engine.InputRTP, Streams: streams}
		return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, nil)

	case WHIP:
		f.resolveItemDuration(dur, item)
		cfg := engine.InputConfig{ID: nodeID, Type: engine.InputWHIP}
		return f.createStandalone(ctx, cfg, item, created, subscribe, onSourceEnd, nil)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSourceType, item.Source)
	}
}

func (f *SourceFactory) resolveFile(ctx context.Context, name string) (string, error) {
	if f.resolver == nil {
		return name, nil
	}
	resolved, err := f.resolver.Resolve(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	return resolved, nil
}

// resolveItemDuration settles the duration future for sources whose only
// possible bound is the explicit item duration.
func (f *SourceFactory) resolveItemDuration(dur *durationFuture, item Item) {
	if item.Duration > 0 {
		dur.resolve(item.Duration, true)
	} else {
		dur.resolve(0, false)
	}
}

func (f *SourceFactory) createStandalone(ctx context.Context, cfg engine.InputConfig, item Item, created *CreatedSource, subscribe SubscribeFunc, onSourceEnd func(reason string), onInfo func(int64)) (*CreatedSource, error) {
	var (
		closeOnce sync.Once
		node      engine.InputNode
	)
	closeNode := func() {
		closeOnce.Do(func() {
			time.AfterFunc(f.closeGrace, func() {
				if node == nil {
					return
				}
				if err := node.Close(); err != nil {
					f.logger.Warn().Err(err).Str("node", created.NodeID).Msg("close failed")
				}
			})
		})
	}

	hooks := engine.InputHooks{
		OnCreate: func(n engine.InputNode) {
			node = n
			subscribe(Binding{Node: n, NodeID: created.NodeID, Kind: created.Kind, Item: item, Filter: created.Filter, Close: closeNode})
		},
		OnEOF: func() {
			closeNode()
			// A file that ends without reporting info has no further
			// chance to resolve its duration.
			created.duration.resolve(0, false)
			if onSourceEnd != nil {
				onSourceEnd("eof")
			}
		},
		OnConnectionChange: func(status engine.ConnectionStatus, sourceName string) {
			if status != engine.ConnectionDisconnected {
				return
			}
			closeNode()
			if onSourceEnd != nil {
				onSourceEnd("disconnect")
			}
		},
		OnInfo:  onInfo,
		OnClose: f.onNodeClosed,
	}

	n, err := f.eng.CreateInput(ctx, cfg, hooks)
	if err != nil {
		return nil, fmt.Errorf("create input %s: %w", created.NodeID, err)
	}
	node = n
	created.Node = n
	created.Close = closeNode
	return created, nil
}

// createShared binds the item onto a pre-created listener node. The node is
// never closed by the slot; only the disconnect subscription is released.
func (f *SourceFactory) createShared(proto ListenerProtocol, port int, matchName string, item Item, created *CreatedSource, subscribe SubscribeFunc, onSourceEnd func(reason string)) (*CreatedSource, error) {
	node, err := f.listeners.Get(proto, port)
	if err != nil {
		return nil, err
	}

	handleID := uuid.NewString()
	detach := func() { f.listeners.Detach(proto, port, handleID) }
	cb := func(sourceName string) {
		if matchName != "" && sourceName != matchName {
			return
		}
		detach()
		if onSourceEnd != nil {
			onSourceEnd("disconnect")
		}
	}
	if err := f.listeners.Attach(proto, port, handleID, cb); err != nil {
		return nil, err
	}

	f.resolveItemDuration(created.duration, item)
	created.Node = node
	created.Close = detach

	subscribe(Binding{Node: node, NodeID: created.NodeID, Kind: created.Kind, Item: item, Filter: created.Filter, Close: detach})
	return created, nil
}
