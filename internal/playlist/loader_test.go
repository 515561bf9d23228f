/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const samplePlaylist = `
items:
  - duration_ms: 5000
    mp4_file:
      file: a.mp4
  - srt:
      mode: listener
      ip: 0.0.0.0
      port: 5000
  - duration_ms: 2000
    image:
      file: logo.png
      format: png
  - rtmp:
      port: 1935
      app: live
      stream: x
  - begin_ms: 1500
    ts_file:
      file: c.ts
  - rtp:
      streams:
        - port: 6000
          payload_type: 96
          codec: h264
  - whip: {}
`

func TestParsePlaylist(t *testing.T) {
	items, err := Parse(strings.NewReader(samplePlaylist))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("parsed %d items, want 7", len(items))
	}

	if items[0].Duration != 5*time.Second {
		t.Fatalf("item 0 duration = %v, want 5s", items[0].Duration)
	}
	if _, ok := items[0].Source.(LocalMP4File); !ok {
		t.Fatalf("item 0 source = %T, want LocalMP4File", items[0].Source)
	}

	srt, ok := items[1].Source.(SRT)
	if !ok || srt.Mode != SRTListener || srt.Port != 5000 {
		t.Fatalf("item 1 source = %#v, want SRT listener on 5000", items[1].Source)
	}
	if items[1].Duration != 0 {
		t.Fatalf("item 1 duration = %v, want zero (natural end)", items[1].Duration)
	}

	img, ok := items[2].Source.(Image)
	if !ok || img.Format != "png" {
		t.Fatalf("item 2 source = %#v, want png image", items[2].Source)
	}

	rtmp, ok := items[3].Source.(RTMP)
	if !ok || rtmp.SourceName() != "live/x" {
		t.Fatalf("item 3 source = %#v, want rtmp live/x", items[3].Source)
	}

	if items[4].Begin != 1500*time.Millisecond {
		t.Fatalf("item 4 begin = %v, want 1.5s", items[4].Begin)
	}

	rtp, ok := items[5].Source.(RTP)
	if !ok || len(rtp.Streams) != 1 || rtp.Streams[0].Codec != "h264" {
		t.Fatalf("item 5 source = %#v, want one h264 rtp stream", items[5].Source)
	}

	if _, ok := items[6].Source.(WHIP); !ok {
		t.Fatalf("item 6 source = %T, want WHIP", items[6].Source)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no source", "items:\n  - duration_ms: 1000\n"},
		{"multiple sources", "items:\n  - ts_file:\n      file: a.ts\n    whip: {}\n"},
		{"unknown field", "items:\n  - ts_file:\n      file: a.ts\n    loop: true\n"},
		{"invalid source", "items:\n  - srt:\n      mode: dialer\n      port: 5000\n"},
		{"bad port", "items:\n  - rtmp:\n      port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Fatal("parse accepted an invalid document")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.yaml")
	if err := os.WriteFile(path, []byte(samplePlaylist), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	items, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("loaded %d items, want 7", len(items))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("load of missing file succeeded")
	}
}
