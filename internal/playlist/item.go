/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist implements the playlist state machine and source
// lifecycle controller: it creates input nodes at the right time, prewarms
// live sources, reuses shared listener sockets, and drives the smooth
// switcher's crossfades.
package playlist

import (
	"fmt"
	"time"
)

// Kind classifies a source's media shape. Video-only sources get silent
// audio supplied by the controller so the switcher always sees A+V per pin.
type Kind string

const (
	KindAV    Kind = "av"
	KindVideo Kind = "video"
)

// SourceType names the playlist source variants.
type SourceType string

const (
	SourceLocalTSFile  SourceType = "local_ts_file"
	SourceLocalMP4File SourceType = "local_mp4_file"
	SourceSRT          SourceType = "srt"
	SourceRTMP         SourceType = "rtmp"
	SourceImage        SourceType = "image"
	SourceRTP          SourceType = "rtp"
	SourceWHIP         SourceType = "whip"
)

// Source is the closed set of playlist source variants.
type Source interface {
	Type() SourceType
	// Live reports whether the source is a live ingest. Only live sources
	// are prewarmed into the next slot.
	Live() bool
	Kind() Kind
	validate() error
}

// SRTMode selects the SRT connection direction.
type SRTMode string

const (
	SRTCaller   SRTMode = "caller"
	SRTListener SRTMode = "listener"
)

// LocalTSFile plays an MPEG-TS file from disk.
type LocalTSFile struct {
	FileName string
}

func (s LocalTSFile) Type() SourceType { return SourceLocalTSFile }
func (s LocalTSFile) Live() bool       { return false }
func (s LocalTSFile) Kind() Kind       { return KindAV }
func (s LocalTSFile) validate() error {
	if s.FileName == "" {
		return fmt.Errorf("ts file source requires a file name")
	}
	return nil
}

// LocalMP4File plays an MP4 file from disk. Its natural duration is
// discovered at runtime.
type LocalMP4File struct {
	FileName string
}

func (s LocalMP4File) Type() SourceType { return SourceLocalMP4File }
func (s LocalMP4File) Live() bool       { return false }
func (s LocalMP4File) Kind() Kind       { return KindAV }
func (s LocalMP4File) validate() error {
	if s.FileName == "" {
		return fmt.Errorf("mp4 file source requires a file name")
	}
	return nil
}

// SRT ingests over SRT, either dialing out (caller) or through a shared
// listener socket.
type SRT struct {
	Mode SRTMode
	IP   string
	Port int
}

func (s SRT) Type() SourceType { return SourceSRT }
func (s SRT) Live() bool       { return true }
func (s SRT) Kind() Kind       { return KindAV }
func (s SRT) validate() error {
	if s.Mode != SRTCaller && s.Mode != SRTListener {
		return fmt.Errorf("srt source has unknown mode %q", s.Mode)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("srt source has invalid port %d", s.Port)
	}
	return nil
}

// RTMP ingests from a shared RTMP listener. When both App and Stream are
// set, the item only accepts streams whose sourceName is "App/Stream".
type RTMP struct {
	Port   int
	App    string
	Stream string
}

func (s RTMP) Type() SourceType { return SourceRTMP }
func (s RTMP) Live() bool       { return true }
func (s RTMP) Kind() Kind       { return KindAV }
func (s RTMP) validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("rtmp source has invalid port %d", s.Port)
	}
	return nil
}

// SourceName returns the "app/stream" selector, or "" when the item accepts
// any publisher.
func (s RTMP) SourceName() string {
	if s.App == "" || s.Stream == "" {
		return ""
	}
	return s.App + "/" + s.Stream
}

// Image shows a still image; video-only.
type Image struct {
	FileName string
	Format   string
}

func (s Image) Type() SourceType { return SourceImage }
func (s Image) Live() bool       { return false }
func (s Image) Kind() Kind       { return KindVideo }
func (s Image) validate() error {
	if s.FileName == "" {
		return fmt.Errorf("image source requires a file name")
	}
	if s.Format == "" {
		return fmt.Errorf("image source requires a format")
	}
	return nil
}

// RTPStreamSpec describes one stream of an RTP source.
type RTPStreamSpec struct {
	Port        int
	PayloadType int
	Codec       string
}

// RTP ingests raw RTP streams.
type RTP struct {
	Streams []RTPStreamSpec
}

func (s RTP) Type() SourceType { return SourceRTP }
func (s RTP) Live() bool       { return true }
func (s RTP) Kind() Kind       { return KindAV }
func (s RTP) validate() error {
	if len(s.Streams) == 0 {
		return fmt.Errorf("rtp source requires at least one stream")
	}
	for _, st := range s.Streams {
		if st.Port <= 0 || st.Port > 65535 {
			return fmt.Errorf("rtp stream has invalid port %d", st.Port)
		}
	}
	return nil
}

// WHIP ingests via WHIP/WebRTC.
type WHIP struct{}

func (s WHIP) Type() SourceType { return SourceWHIP }
func (s WHIP) Live() bool       { return true }
func (s WHIP) Kind() Kind       { return KindAV }
func (s WHIP) validate() error  { return nil }

// Item is one playlist entry. A zero Duration means "play to natural end";
// Begin is an advisory in-file start offset passed through to the engine.
type Item struct {
	Begin    time.Duration
	Duration time.Duration
	Source   Source
}

// Validate checks the item's source configuration.
func (i Item) Validate() error {
	if i.Source == nil {
		return fmt.Errorf("item has no source")
	}
	return i.Source.validate()
}
