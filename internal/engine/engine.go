/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine defines the contract between the playlist orchestrator and
// the media engine that instantiates nodes, decodes streams, and performs the
// actual audio/video switching. The orchestrator never touches media data;
// everything below this interface belongs to the engine.
package engine

import "context"

// MediaType distinguishes audio and video streams inside a node's output.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// StreamKey identifies one logical stream inside a node's output.
type StreamKey struct {
	Program    int
	Rendition  string
	StreamID   int
	SourceName string
}

// Stream is one entry of a node's stream metadata.
type Stream struct {
	Key   StreamKey
	Media MediaType
}

// ConnectionStatus reports the link state of a network-backed input.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// InputType enumerates the input node flavours the engine can create.
type InputType string

const (
	InputTSFile      InputType = "ts_file"
	InputMP4File     InputType = "mp4_file"
	InputSRTCaller   InputType = "srt_caller"
	InputSRTListener InputType = "srt_listener"
	InputRTMP        InputType = "rtmp"
	InputImage       InputType = "image"
	InputRTP         InputType = "rtp"
	InputWHIP        InputType = "whip"
)

// RTPStream describes one RTP stream of an rtp input.
type RTPStream struct {
	Port        int
	PayloadType int
	Codec       string
}

// InputConfig is the engine-facing configuration for a new input node.
// Fields are used per Type; the engine ignores the rest.
type InputConfig struct {
	ID       string
	Type     InputType
	FileName string
	Format   string
	IP       string
	Port     int
	BeginMS  int64
	Streams  []RTPStream
}

// StreamAccept is the answer of an OnStream hook for RTMP publishes.
type StreamAccept struct {
	VideoKey StreamKey
	AudioKey StreamKey
}

// InputHooks carry the engine callbacks for an input node. All hooks are
// optional. OnCreate fires as soon as the node is addressable for
// subscriptions and before any frame is dispatched, so a subscription
// installed inside it never misses initial frames.
type InputHooks struct {
	OnCreate func(InputNode)
	OnEOF    func()
	// OnInfo delivers the natural duration in milliseconds once the engine
	// has probed the container (MP4 only).
	OnInfo func(durationMS int64)
	// OnConnectionChange reports link state for network inputs. For shared
	// listeners sourceName names the logical publisher that changed.
	OnConnectionChange func(status ConnectionStatus, sourceName string)
	// OnStream is consulted for every incoming RTMP publish. Returning nil
	// rejects the publish.
	OnStream func(app, url, streamID, publishingName string) *StreamAccept
	// OnClose fires after the node has fully shut down.
	OnClose func(InputNode)
}

// Node is the common surface of every engine node.
type Node interface {
	ID() string
	Close() error
}

// InputNode is a created input. Stream metadata is delivered to subscription
// selectors, not read from the node directly.
type InputNode interface {
	Node
}

// StreamSelector picks streams out of a source's metadata and maps them onto
// switcher pins. Returning an empty map installs no subscription for the
// current metadata. Selectors are invoked from the engine's dispatch context
// whenever a source's stream metadata changes; the engine never calls them
// synchronously from SubscribeToPins.
type StreamSelector func(streams []Stream) map[string][]StreamKey

// PinSubscription binds one source node to the switcher through a selector.
type PinSubscription struct {
	Source   Node
	Selector StreamSelector
}

// Switcher is the smooth-switcher node: it crossfades audio and video
// between subscribed pins.
type Switcher interface {
	Node
	// SubscribeToPins replaces the complete subscription set.
	SubscribeToPins(subs []PinSubscription) error
	// SwitchSource commands a crossfade to the given pin over the
	// switcher's configured transition duration.
	SwitchSource(pin string) error
}

// SwitcherConfig configures the smooth switcher and its output format.
type SwitcherConfig struct {
	TransitionMS int64
	Width        int
	Height       int
	SampleRate   int
	Channels     int
}

// AudioSignalConfig configures a generated audio source.
type AudioSignalConfig struct {
	SampleRate int
	Channels   int
}

// AudioGainConfig configures a per-channel gain stage on a source.
type AudioGainConfig struct {
	Source Node
	// Gain applies to every channel; 0 produces silence.
	Gain float64
}

// StreamKeyOverrideConfig relabels a source's output with a fixed key.
type StreamKeyOverrideConfig struct {
	Source Node
	Key    StreamKey
}

// Engine is the factory surface the orchestrator consumes.
type Engine interface {
	CreateInput(ctx context.Context, cfg InputConfig, hooks InputHooks) (InputNode, error)
	CreateSwitcher(ctx context.Context, cfg SwitcherConfig) (Switcher, error)
	CreateAudioSignal(ctx context.Context, cfg AudioSignalConfig) (Node, error)
	CreateAudioGain(ctx context.Context, cfg AudioGainConfig) (Node, error)
	CreateStreamKeyOverride(ctx context.Context, cfg StreamKeyOverrideConfig) (Node, error)
}
