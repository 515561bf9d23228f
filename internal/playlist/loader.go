/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// itemDoc is the on-disk shape of one playlist entry. Exactly one source
// block must be set. Times are in milliseconds.
type itemDoc struct {
	BeginMS    int64 `yaml:"begin_ms"`
	DurationMS int64 `yaml:"duration_ms"`

	TSFile *struct {
		File string `yaml:"file"`
	} `yaml:"ts_file"`
	MP4File *struct {
		File string `yaml:"file"`
	} `yaml:"mp4_file"`
	SRT *struct {
		Mode SRTMode `yaml:"mode"`
		IP   string  `yaml:"ip"`
		Port int     `yaml:"port"`
	} `yaml:"srt"`
	RTMP *struct {
		Port   int    `yaml:"port"`
		App    string `yaml:"app"`
		Stream string `yaml:"stream"`
	} `yaml:"rtmp"`
	Image *struct {
		File   string `yaml:"file"`
		Format string `yaml:"format"`
	} `yaml:"image"`
	RTP *struct {
		Streams []struct {
			Port        int    `yaml:"port"`
			PayloadType int    `yaml:"payload_type"`
			Codec       string `yaml:"codec"`
		} `yaml:"streams"`
	} `yaml:"rtp"`
	WHIP *struct{} `yaml:"whip"`
}

type playlistDoc struct {
	Items []itemDoc `yaml:"items"`
}

// Load reads a playlist definition from a YAML file and validates every
// item.
func Load(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()
	items, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", path, err)
	}
	return items, nil
}

// Parse decodes a playlist definition. Unknown fields are rejected.
func Parse(r io.Reader) ([]Item, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc playlistDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	items := make([]Item, 0, len(doc.Items))
	for i, d := range doc.Items {
		src, err := d.source()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		item := Item{
			Begin:    time.Duration(d.BeginMS) * time.Millisecond,
			Duration: time.Duration(d.DurationMS) * time.Millisecond,
			Source:   src,
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (d itemDoc) source() (Source, error) {
	var srcs []Source
	if d.TSFile != nil {
		srcs = append(srcs, LocalTSFile{FileName: d.TSFile.File})
	}
	if d.MP4File != nil {
		srcs = append(srcs, LocalMP4File{FileName: d.MP4File.File})
	}
	if d.SRT != nil {
		srcs = append(srcs, SRT{Mode: d.SRT.Mode, IP: d.SRT.IP, Port: d.SRT.Port})
	}
	if d.RTMP != nil {
		srcs = append(srcs, RTMP{Port: d.RTMP.Port, App: d.RTMP.App, Stream: d.RTMP.Stream})
	}
	if d.Image != nil {
		srcs = append(srcs, Image{FileName: d.Image.File, Format: d.Image.Format})
	}
	if d.RTP != nil {
		specs := make([]RTPStreamSpec, 0, len(d.RTP.Streams))
		for _, st := range d.RTP.Streams {
			specs = append(specs, RTPStreamSpec{Port: st.Port, PayloadType: st.PayloadType, Codec: st.Codec})
		}
		srcs = append(srcs, RTP{Streams: specs})
	}
	if d.WHIP != nil {
		srcs = append(srcs, WHIP{})
	}

	switch len(srcs) {
	case 0:
		return nil, fmt.Errorf("no source block")
	case 1:
		return srcs[0], nil
	default:
		return nil, fmt.Errorf("multiple source blocks")
	}
}
