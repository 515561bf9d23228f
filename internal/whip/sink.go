/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package whip

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// PacketSink receives RTP packets from WHIP sessions. kind is "audio" or
// "video".
type PacketSink interface {
	WriteRTP(kind string, pkt *rtp.Packet) error
}

// UDPSink forwards RTP packets over UDP to the media engine's whip input,
// one port per media kind.
type UDPSink struct {
	mu    sync.Mutex
	audio *net.UDPConn
	video *net.UDPConn
}

// NewUDPSink dials the engine's audio and video RTP ports on host.
func NewUDPSink(host string, audioPort, videoPort int) (*UDPSink, error) {
	audio, err := dialUDP(host, audioPort)
	if err != nil {
		return nil, fmt.Errorf("dial audio port: %w", err)
	}
	video, err := dialUDP(host, videoPort)
	if err != nil {
		audio.Close()
		return nil, fmt.Errorf("dial video port: %w", err)
	}
	return &UDPSink{audio: audio, video: video}, nil
}

func dialUDP(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, addr)
}

// WriteRTP marshals and forwards one packet.
func (s *UDPSink) WriteRTP(kind string, pkt *rtp.Packet) error {
	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.audio
	if kind == "video" {
		conn = s.video
	}
	_, err = conn.Write(buf)
	return err
}

// Close closes both forwarding sockets.
func (s *UDPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	aerr := s.audio.Close()
	verr := s.video.Close()
	if aerr != nil {
		return aerr
	}
	return verr
}
