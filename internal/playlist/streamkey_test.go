/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"testing"

	"github.com/friendsincode/grimnir_switch/internal/engine"
)

func audioStream(name string) engine.Stream {
	return engine.Stream{
		Key:   engine.StreamKey{Program: 1, Rendition: "default", StreamID: 257, SourceName: name},
		Media: engine.MediaAudio,
	}
}

func videoStream(name string) engine.Stream {
	return engine.Stream{
		Key:   engine.StreamKey{Program: 1, Rendition: "default", StreamID: 256, SourceName: name},
		Media: engine.MediaVideo,
	}
}

func TestSelectAV(t *testing.T) {
	tests := []struct {
		name       string
		streams    []engine.Stream
		filter     KeyFilter
		wantAudio  int
		wantVideo  int
		wantSource string
	}{
		{
			name:      "empty",
			streams:   nil,
			wantAudio: 0, wantVideo: 0,
		},
		{
			name:      "audio only",
			streams:   []engine.Stream{audioStream("s")},
			wantAudio: 1, wantVideo: 0,
		},
		{
			name:      "picks at most one per media",
			streams:   []engine.Stream{audioStream("a"), audioStream("b"), videoStream("a"), videoStream("b")},
			wantAudio: 1, wantVideo: 1,
		},
		{
			name:      "nil filter accepts all",
			streams:   []engine.Stream{audioStream("s"), videoStream("s")},
			filter:    nil,
			wantAudio: 1, wantVideo: 1,
		},
		{
			name:       "source name filter",
			streams:    []engine.Stream{audioStream("live/x"), videoStream("live/x"), audioStream("live/y"), videoStream("live/y")},
			filter:     SourceNameFilter("live/y"),
			wantAudio:  1,
			wantVideo:  1,
			wantSource: "live/y",
		},
		{
			name:      "filter matches nothing",
			streams:   []engine.Stream{audioStream("live/x"), videoStream("live/x")},
			filter:    SourceNameFilter("live/z"),
			wantAudio: 0, wantVideo: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audio, video := selectAV(tt.streams, tt.filter)
			if len(audio) != tt.wantAudio || len(video) != tt.wantVideo {
				t.Fatalf("selectAV: got %d audio %d video, want %d audio %d video", len(audio), len(video), tt.wantAudio, tt.wantVideo)
			}
			if tt.wantSource != "" {
				if audio[0].SourceName != tt.wantSource || video[0].SourceName != tt.wantSource {
					t.Fatalf("selectAV: picked sources %s/%s, want %s", audio[0].SourceName, video[0].SourceName, tt.wantSource)
				}
			}
		})
	}
}

func TestAVToPinRequiresBothMedia(t *testing.T) {
	sel := AVToPin("0")

	if got := sel([]engine.Stream{videoStream("s")}); got != nil {
		t.Fatalf("video-only streams mapped to pins: %v", got)
	}
	if got := sel([]engine.Stream{audioStream("s")}); got != nil {
		t.Fatalf("audio-only streams mapped to pins: %v", got)
	}

	got := sel([]engine.Stream{audioStream("s"), videoStream("s")})
	keys, ok := got["0"]
	if !ok || len(keys) != 2 {
		t.Fatalf("pin mapping = %v, want two keys on pin 0", got)
	}
	if keys[0].StreamID != 257 || keys[1].StreamID != 256 {
		t.Fatalf("pin keys in wrong order: %v", keys)
	}
}

func TestKeyFilterFor(t *testing.T) {
	tests := []struct {
		name   string
		src    Source
		key    engine.StreamKey
		accept bool
	}{
		{"ts file accepts all", LocalTSFile{FileName: "a.ts"}, engine.StreamKey{SourceName: "anything"}, true},
		{"rtmp with app and stream matches", RTMP{Port: 1935, App: "live", Stream: "x"}, engine.StreamKey{SourceName: "live/x"}, true},
		{"rtmp with app and stream rejects others", RTMP{Port: 1935, App: "live", Stream: "x"}, engine.StreamKey{SourceName: "live/y"}, false},
		{"rtmp without stream accepts all", RTMP{Port: 1935, App: "live"}, engine.StreamKey{SourceName: "other/z"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keyFilterFor(tt.src)(tt.key); got != tt.accept {
				t.Fatalf("filter(%v) = %v, want %v", tt.key.SourceName, got, tt.accept)
			}
		})
	}
}
