/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
	"github.com/friendsincode/grimnir_switch/internal/events"
)

// Output stream keys downstream consumers subscribe to.
var (
	VideoOutputKey = engine.StreamKey{Program: 1, Rendition: "video", StreamID: 256, SourceName: "input"}
	AudioOutputKey = engine.StreamKey{Program: 1, Rendition: "audio", StreamID: 257, SourceName: "input"}
)

// Config holds controller tunables. Zero values take defaults.
type Config struct {
	TransitionDuration time.Duration // crossfade length, default 300ms
	OutputWidth        int           // default 640
	OutputHeight       int           // default 480
	SampleRate         int           // default 48000
	Channels           int           // default 2
	// ActivateDelay separates republishing the pin set from the switch
	// command, so the target pin exists before the crossfade starts.
	ActivateDelay time.Duration // default 10ms
	CloseGrace    time.Duration // default 1s
}

func (c Config) withDefaults() Config {
	if c.TransitionDuration <= 0 {
		c.TransitionDuration = 300 * time.Millisecond
	}
	if c.OutputWidth <= 0 {
		c.OutputWidth = 640
	}
	if c.OutputHeight <= 0 {
		c.OutputHeight = 480
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.ActivateDelay <= 0 {
		c.ActivateDelay = 10 * time.Millisecond
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	return c
}

// Recorder persists playout history. All methods must be non-blocking or
// fast; they are called from the controller's update path.
type Recorder interface {
	ItemStarted(index int, sourceType string)
	SwitchIssued(pin string)
	SourceEnded(index int, reason string)
}

// playingItem is the controller's per-slot state.
type playingItem struct {
	item        Item
	index       int
	kind        Kind
	ready       bool
	duration    time.Duration
	hasDuration bool
	closeNode   func()
	sub         *engine.PinSubscription
	silenceSub  *engine.PinSubscription
}

type slotName int

const (
	slotCurrent slotName = iota
	slotNext
)

// Controller is the playlist state machine. It holds three slots (prev,
// current, next), advances them on update, and decides when the switcher
// actually crossfades.
//
// All state transitions are serialised through one mutex: external entry
// points (Start, Switch, engine callbacks) take it, and everything that runs
// inside an update already holds it. Engine stream dispatch and timers call
// back in from their own goroutines through the same lock.
type Controller struct {
	cfg    Config
	eng    engine.Engine
	items  []Item
	logger zerolog.Logger

	factory   *SourceFactory
	listeners *ListenerRegistry
	binding   *SwitcherBinding

	bus      *events.Bus
	recorder Recorder

	switcher engine.Switcher
	silence  engine.Node
	videoOut engine.Node
	audioOut engine.Node

	mu          sync.Mutex
	started     bool
	exhausted   bool
	sourceIndex int // index of the next item to start
	playing     int // index of the active pin, -1 before the first switch
	prev        *playingItem
	current     *playingItem
	next        *playingItem
	durTimer    *time.Timer
	done        chan struct{}
}

// New builds the controller and pre-creates every shared listener the
// playlist needs. It returns only after listeners are ready, so Start can
// bind the first item immediately.
func New(ctx context.Context, eng engine.Engine, items []Item, cfg Config, logger zerolog.Logger) (*Controller, error) {
	cfg = cfg.withDefaults()

	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("playlist item %d: %w", i, err)
		}
	}

	c := &Controller{
		cfg:     cfg,
		eng:     eng,
		items:   items,
		logger:  logger.With().Str("component", "playlist-controller").Logger(),
		playing: -1,
		done:    make(chan struct{}),
	}

	sw, err := eng.CreateSwitcher(ctx, engine.SwitcherConfig{
		TransitionMS: cfg.TransitionDuration.Milliseconds(),
		Width:        cfg.OutputWidth,
		Height:       cfg.OutputHeight,
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("create switcher: %w", err)
	}
	c.switcher = sw
	c.binding = NewSwitcherBinding(sw, c.logger)

	signal, err := eng.CreateAudioSignal(ctx, engine.AudioSignalConfig{SampleRate: cfg.SampleRate, Channels: cfg.Channels})
	if err != nil {
		return nil, fmt.Errorf("create audio signal: %w", err)
	}
	silence, err := eng.CreateAudioGain(ctx, engine.AudioGainConfig{Source: signal, Gain: 0})
	if err != nil {
		return nil, fmt.Errorf("create silence gain: %w", err)
	}
	c.silence = silence

	c.videoOut, err = eng.CreateStreamKeyOverride(ctx, engine.StreamKeyOverrideConfig{Source: sw, Key: VideoOutputKey})
	if err != nil {
		return nil, fmt.Errorf("create video output: %w", err)
	}
	c.audioOut, err = eng.CreateStreamKeyOverride(ctx, engine.StreamKeyOverrideConfig{Source: sw, Key: AudioOutputKey})
	if err != nil {
		return nil, fmt.Errorf("create audio output: %w", err)
	}

	c.listeners = NewListenerRegistry(c.logger)
	c.factory = NewSourceFactory(eng, c.listeners, c.logger)
	c.factory.SetCloseGrace(cfg.CloseGrace)
	c.factory.SetNodeClosedHook(c.handleNodeClosed)

	if err := c.precreateListeners(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetEventBus attaches an event bus. Call before Start.
func (c *Controller) SetEventBus(bus *events.Bus) { c.bus = bus }

// SetRecorder attaches a history recorder. Call before Start.
func (c *Controller) SetRecorder(r Recorder) { c.recorder = r }

// SetFileResolver installs a resolver for file-backed sources. Call before
// Start.
func (c *Controller) SetFileResolver(r FileResolver) { c.factory.SetFileResolver(r) }

// Video returns the relabelled video output node.
func (c *Controller) Video() engine.Node { return c.videoOut }

// Audio returns the relabelled audio output node.
func (c *Controller) Audio() engine.Node { return c.audioOut }

// Done is closed once the playlist is exhausted.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Listeners exposes the shared listener registry.
func (c *Controller) Listeners() *ListenerRegistry { return c.listeners }

// precreateListeners walks the playlist and creates one listener node per
// (protocol, port) ahead of playback.
func (c *Controller) precreateListeners(ctx context.Context) error {
	for _, item := range c.items {
		switch src := item.Source.(type) {
		case SRT:
			if src.Mode != SRTListener {
				continue
			}
			err := c.listeners.Ensure(ListenerProtoSRT, src.Port, func(fanout DisconnectFunc) (engine.InputNode, error) {
				return c.eng.CreateInput(ctx, engine.InputConfig{
					ID:   fmt.Sprintf("listener-srt-%d", src.Port),
					Type: engine.InputSRTListener,
					IP:   src.IP,
					Port: src.Port,
				}, engine.InputHooks{
					OnConnectionChange: c.listenerDisconnectHook(fanout),
				})
			})
			if err != nil {
				return err
			}
		case RTMP:
			err := c.listeners.Ensure(ListenerProtoRTMP, src.Port, func(fanout DisconnectFunc) (engine.InputNode, error) {
				return c.eng.CreateInput(ctx, engine.InputConfig{
					ID:   fmt.Sprintf("listener-rtmp-%d", src.Port),
					Type: engine.InputRTMP,
					Port: src.Port,
				}, engine.InputHooks{
					OnConnectionChange: c.listenerDisconnectHook(fanout),
					OnStream:           acceptRTMPPublish,
				})
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) listenerDisconnectHook(fanout DisconnectFunc) func(engine.ConnectionStatus, string) {
	return func(status engine.ConnectionStatus, sourceName string) {
		if status != engine.ConnectionDisconnected {
			return
		}
		c.publish(events.EventListenerDisconnect, events.Payload{"source_name": sourceName})
		fanout(sourceName)
	}
}

// acceptRTMPPublish admits every publish under sourceName "<app>/<name>"
// with the fixed rendition "default" for both media. Item-level filters do
// the per-slot demultiplexing.
func acceptRTMPPublish(app, url, streamID, publishingName string) *engine.StreamAccept {
	sourceName := app + "/" + publishingName
	return &engine.StreamAccept{
		AudioKey: engine.StreamKey{Program: 1, Rendition: "default", StreamID: 257, SourceName: sourceName},
		VideoKey: engine.StreamKey{Program: 1, Rendition: "default", StreamID: 256, SourceName: sourceName},
	}
}

// Start begins playback from item 0. Returns ErrPlaylistExhausted for an
// empty playlist.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	return c.updateLocked(ctx)
}

// Switch advances to the next item manually. The previous item's node is
// not torn down here; it closes on its own EOF/disconnect or through a
// later advance's grace close.
func (c *Controller) Switch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	return c.updateLocked(ctx)
}

// updateLocked advances the slots by one item. Caller holds c.mu.
func (c *Controller) updateLocked(ctx context.Context) error {
	// The pending timer belongs to the outgoing item; it must not fire a
	// second advance.
	if c.durTimer != nil {
		c.durTimer.Stop()
		c.durTimer = nil
	}

	idx := c.sourceIndex
	if idx >= len(c.items) {
		if !c.exhausted {
			c.exhausted = true
			c.logger.Info().Int("items", len(c.items)).Msg("playlist exhausted")
			c.publish(events.EventPlaylistExhausted, events.Payload{"items": len(c.items)})
			close(c.done)
		}
		return ErrPlaylistExhausted
	}
	c.sourceIndex++
	item := c.items[idx]

	c.prev = c.current
	c.current = nil

	if c.next != nil && c.next.index == idx {
		// Prewarmed: promote without touching the engine. Timer
		// scheduling below treats it exactly like a fresh item.
		c.current = c.next
		c.next = nil
		c.refreshSubsLocked()
		c.refreshActiveLocked()
	} else {
		c.next = nil
		created, err := c.factory.Create(ctx, item, idx, c.subscribeToNode(idx, slotCurrent), c.sourceEndFunc(idx))
		if err != nil {
			return fmt.Errorf("start item %d: %w", idx, err)
		}
		if c.current == nil {
			return fmt.Errorf("item %d: factory returned without subscribing", idx)
		}
		if item.Duration > 0 {
			c.current.duration, c.current.hasDuration = item.Duration, true
		} else {
			d, ok, err := created.Duration(ctx)
			if err != nil {
				return fmt.Errorf("item %d duration: %w", idx, err)
			}
			c.current.duration, c.current.hasDuration = d, ok
		}
		c.current.closeNode = created.Close
	}

	c.logger.Info().Int("index", idx).Str("source", string(item.Source.Type())).Msg("item started")
	c.publish(events.EventItemStarted, events.Payload{"index": idx, "source_type": string(item.Source.Type())})
	if c.recorder != nil {
		c.recorder.ItemStarted(idx, string(item.Source.Type()))
	}

	c.scheduleAdvanceLocked()
	c.prewarmLocked(ctx, idx+1)
	return nil
}

// scheduleAdvanceLocked arms the duration timer for the current item. The
// timer fires transitionDuration early so the crossfade completes at the
// item boundary. The outgoing node's close handle is invoked right at the
// advance; the handle itself applies the grace delay, so the node outlives
// the crossfade by exactly one grace.
func (c *Controller) scheduleAdvanceLocked() {
	cur := c.current
	if cur == nil || !cur.hasDuration {
		return
	}
	delay := cur.duration - c.cfg.TransitionDuration
	if delay < 0 {
		delay = 0
	}
	idx := cur.index
	closeNode := cur.closeNode

	c.durTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.exhausted || c.current == nil || c.current.index != idx {
			// A manual switch advanced past this item first.
			c.mu.Unlock()
			return
		}
		if err := c.updateLocked(context.Background()); err != nil && err != ErrPlaylistExhausted {
			c.logger.Error().Err(err).Int("index", idx).Msg("timed advance failed")
		}
		c.mu.Unlock()

		if closeNode != nil {
			closeNode()
		}
	})
}

// prewarmLocked creates the next item's node ahead of time when it is a
// live source, so the eventual switch is instant. File-backed next items
// are only prefetched from remote storage.
func (c *Controller) prewarmLocked(ctx context.Context, idx int) {
	if idx >= len(c.items) {
		return
	}
	item := c.items[idx]
	if !item.Source.Live() {
		go c.factory.Prefetch(context.Background(), item)
		return
	}

	created, err := c.factory.Create(ctx, item, idx, c.subscribeToNode(idx, slotNext), c.sourceEndFunc(idx))
	if err != nil {
		// The item gets a second chance when its turn comes.
		c.logger.Warn().Err(err).Int("index", idx).Msg("prewarm failed")
		c.next = nil
		return
	}
	if c.next == nil {
		return
	}
	if item.Duration > 0 {
		c.next.duration, c.next.hasDuration = item.Duration, true
	} else if d, ok, err := created.Duration(ctx); err == nil {
		c.next.duration, c.next.hasDuration = d, ok
	}
	c.next.closeNode = created.Close
}

// sourceEndFunc reacts to EOF/disconnect of the item at idx. Only the
// current item advances the playlist; a prewarmed next item losing its
// publisher before activation has no effect.
func (c *Controller) sourceEndFunc(idx int) func(reason string) {
	return func(reason string) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.publish(events.EventSourceEnded, events.Payload{"index": idx, "reason": reason})
		if c.recorder != nil {
			c.recorder.SourceEnded(idx, reason)
		}

		if c.exhausted || c.current == nil || c.current.index != idx {
			return
		}
		if err := c.updateLocked(context.Background()); err != nil && err != ErrPlaylistExhausted {
			c.logger.Error().Err(err).Int("index", idx).Str("reason", reason).Msg("advance on source end failed")
		}
	}
}

// subscribeToNode builds the per-slot readiness/switch-binding callback. It
// runs synchronously inside factory.Create, under the update serialisation,
// so the subscription is installed before any initial frames are dropped.
func (c *Controller) subscribeToNode(index int, slot slotName) SubscribeFunc {
	return func(b Binding) {
		pi := &playingItem{
			item:      b.Item,
			index:     index,
			kind:      b.Kind,
			closeNode: b.Close,
		}
		pi.sub = &engine.PinSubscription{
			Source:   b.Node,
			Selector: c.slotSelector(pi, b.Kind, b.Filter),
		}
		if b.Kind == KindVideo {
			// Video-only sources still need audio on their pin for the
			// switcher to crossfade; feed it from the silence node.
			pi.silenceSub = &engine.PinSubscription{
				Source:   c.silence,
				Selector: silencePinSelector(strconv.Itoa(index)),
			}
		}

		switch slot {
		case slotCurrent:
			c.current = pi
		case slotNext:
			c.next = pi
		}
		c.refreshSubsLocked()
	}
}

// slotSelector builds the switcher selector for one slot. The engine
// invokes it from its dispatch context whenever the source's stream
// metadata changes; it both maps streams onto the slot's pin and tracks
// readiness.
func (c *Controller) slotSelector(pi *playingItem, kind Kind, filter KeyFilter) engine.StreamSelector {
	pin := strconv.Itoa(pi.index)
	return func(streams []engine.Stream) map[string][]engine.StreamKey {
		audio, video := selectAV(streams, filter)

		ready := (kind == KindVideo || len(audio) > 0) && len(video) > 0

		c.mu.Lock()
		wasReady := pi.ready
		pi.ready = ready
		c.refreshActiveLocked()
		c.mu.Unlock()

		if ready && !wasReady {
			c.publish(events.EventSourceReady, events.Payload{"index": pi.index})
		}

		keys := append(append([]engine.StreamKey(nil), audio...), video...)
		if len(keys) == 0 {
			return nil
		}
		// Even a half-present pin is subscribed, so the downstream
		// synchroniser can start assembling.
		return map[string][]engine.StreamKey{pin: keys}
	}
}

// silencePinSelector maps the silence source's audio onto a pin.
func silencePinSelector(pin string) engine.StreamSelector {
	return func(streams []engine.Stream) map[string][]engine.StreamKey {
		audio := AudioStreamKeys(streams)
		if len(audio) == 0 {
			return nil
		}
		return map[string][]engine.StreamKey{pin: audio[:1]}
	}
}

// refreshSubsLocked republishes the complete pin-set across all slots. This
// is the single point that tells the switcher which sources it may crossfade
// between.
func (c *Controller) refreshSubsLocked() {
	var subs []engine.PinSubscription
	for _, pi := range []*playingItem{c.prev, c.current, c.next} {
		if pi == nil {
			continue
		}
		if pi.sub != nil {
			subs = append(subs, *pi.sub)
		}
		if pi.silenceSub != nil {
			subs = append(subs, *pi.silenceSub)
		}
	}
	if err := c.binding.Publish(subs); err != nil {
		c.logger.Error().Err(err).Msg("publish subscriptions failed")
	}
}

// refreshActiveLocked decides which pin should be active and, when the
// current slot is ready and not yet playing, commands the crossfade after a
// short delay that lets the republished pin-set land first.
func (c *Controller) refreshActiveLocked() {
	target := -1
	switch {
	case c.current != nil && c.current.ready && c.playing != c.current.index:
		target = c.current.index
	case c.playing < 0 && c.prev != nil && c.prev.ready:
		// Recovery path: nothing has ever played but the previous slot
		// is ready. An unready current does not block it.
		target = c.prev.index
	}
	if target < 0 {
		return
	}

	c.playing = target
	pin := strconv.Itoa(target)
	time.AfterFunc(c.cfg.ActivateDelay, func() {
		if err := c.binding.Switch(pin); err != nil {
			c.logger.Error().Err(err).Str("pin", pin).Msg("switch failed")
			return
		}
		c.publish(events.EventSwitched, events.Payload{"pin": pin})
		if c.recorder != nil {
			c.recorder.SwitchIssued(pin)
		}
	})
}

// handleNodeClosed clears the prev slot once its node has fully shut down.
// Current-slot closures arrive through the timer and EOF paths instead.
func (c *Controller) handleNodeClosed(n engine.InputNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prev != nil && c.prev.sub != nil && c.prev.sub.Source == n {
		c.prev = nil
		c.refreshSubsLocked()
	}
}

func (c *Controller) publish(t events.EventType, p events.Payload) {
	if c.bus != nil {
		c.bus.Publish(t, p)
	}
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	Items        int    `json:"items"`
	SourceIndex  int    `json:"source_index"`
	PlayingPin   string `json:"playing_pin,omitempty"`
	CurrentIndex int    `json:"current_index"`
	CurrentReady bool   `json:"current_ready"`
	NextIndex    int    `json:"next_index"`
	Exhausted    bool   `json:"exhausted"`
}

// Status reports the controller's current slots.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Items:        len(c.items),
		SourceIndex:  c.sourceIndex,
		CurrentIndex: -1,
		NextIndex:    -1,
		Exhausted:    c.exhausted,
	}
	if c.playing >= 0 {
		s.PlayingPin = strconv.Itoa(c.playing)
	}
	if c.current != nil {
		s.CurrentIndex = c.current.index
		s.CurrentReady = c.current.ready
	}
	if c.next != nil {
		s.NextIndex = c.next.index
	}
	return s
}

// Shutdown releases everything the controller owns: slot nodes, shared
// listeners, the switcher, and the output nodes.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.durTimer != nil {
		c.durTimer.Stop()
		c.durTimer = nil
	}
	slots := []*playingItem{c.prev, c.current, c.next}
	c.prev, c.current, c.next = nil, nil, nil
	c.mu.Unlock()

	for _, pi := range slots {
		if pi != nil && pi.closeNode != nil {
			pi.closeNode()
		}
	}
	if err := c.listeners.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("listener close failed")
	}
	for _, n := range []engine.Node{c.switcher, c.silence, c.videoOut, c.audioOut} {
		if n != nil {
			if err := n.Close(); err != nil {
				c.logger.Warn().Err(err).Str("node", n.ID()).Msg("node close failed")
			}
		}
	}
}
