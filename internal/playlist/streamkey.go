/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import "github.com/friendsincode/grimnir_switch/internal/engine"

// KeyFilter decides whether a stream key belongs to an item.
type KeyFilter func(engine.StreamKey) bool

// AcceptAllKeys is the default filter.
func AcceptAllKeys(engine.StreamKey) bool { return true }

// SourceNameFilter accepts only keys published under the given sourceName.
func SourceNameFilter(sourceName string) KeyFilter {
	return func(k engine.StreamKey) bool { return k.SourceName == sourceName }
}

func keyFilterFor(src Source) KeyFilter {
	if rtmp, ok := src.(RTMP); ok {
		if name := rtmp.SourceName(); name != "" {
			return SourceNameFilter(name)
		}
	}
	return AcceptAllKeys
}

// AudioStreamKeys returns the keys of every audio stream.
func AudioStreamKeys(streams []engine.Stream) []engine.StreamKey {
	return keysOf(streams, engine.MediaAudio)
}

// VideoStreamKeys returns the keys of every video stream.
func VideoStreamKeys(streams []engine.Stream) []engine.StreamKey {
	return keysOf(streams, engine.MediaVideo)
}

func keysOf(streams []engine.Stream, media engine.MediaType) []engine.StreamKey {
	var keys []engine.StreamKey
	for _, s := range streams {
		if s.Media == media {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// AVToPin builds a selector that maps one audio plus one video stream onto a
// pin, but only once both are present. Consumers that need synchronised A/V
// use this to avoid assembling a half-empty pin.
func AVToPin(pin string) engine.StreamSelector {
	return func(streams []engine.Stream) map[string][]engine.StreamKey {
		audio := AudioStreamKeys(streams)
		video := VideoStreamKeys(streams)
		if len(audio) == 0 || len(video) == 0 {
			return nil
		}
		return map[string][]engine.StreamKey{pin: {audio[0], video[0]}}
	}
}

// selectAV filters streams, then picks at most one audio and one video key.
func selectAV(streams []engine.Stream, filter KeyFilter) (audio, video []engine.StreamKey) {
	if filter == nil {
		filter = AcceptAllKeys
	}
	var filtered []engine.Stream
	for _, s := range streams {
		if filter(s.Key) {
			filtered = append(filtered, s)
		}
	}
	if keys := AudioStreamKeys(filtered); len(keys) > 0 {
		audio = keys[:1]
	}
	if keys := VideoStreamKeys(filtered); len(keys) > 0 {
		video = keys[:1]
	}
	return audio, video
}
