/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package whip terminates WHIP ingest sessions using Pion. A publisher POSTs
// an SDP offer, the gateway answers, and received RTP is forwarded into the
// media engine's whip input.
package whip

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/events"
)

// maxOfferSize bounds the request body read for an SDP offer.
const maxOfferSize = 1 << 20

// Config holds gateway configuration.
type Config struct {
	STUNServer string // STUN server URL (optional)
}

// Gateway accepts WHIP publishes and owns their peer connections.
type Gateway struct {
	api    *webrtc.API
	config Config
	sink   PacketSink
	bus    *events.Bus
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id   string
	pc   *webrtc.PeerConnection
	done chan struct{}
	once sync.Once
}

// NewGateway creates a WHIP gateway forwarding received RTP to sink.
func NewGateway(cfg Config, sink PacketSink, logger zerolog.Logger) (*Gateway, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register h264 codec: %w", err)
	}

	i := &interceptor.Registry{}

	// Request keyframes from the publisher at a fixed interval so a joining
	// switcher pin can decode without waiting for the publisher's GOP.
	intervalPliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(intervalPliFactory)

	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &Gateway{
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		config:   cfg,
		sink:     sink,
		logger:   logger.With().Str("component", "whip").Logger(),
		sessions: make(map[string]*session),
	}, nil
}

// SetEventBus attaches the process event bus for session start/end events.
func (g *Gateway) SetEventBus(bus *events.Bus) { g.bus = bus }

// Router returns the WHIP endpoint routes.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/whip", g.handleOffer)
	r.Delete("/whip/{sessionID}", g.handleDelete)
	return r
}

// handleOffer implements the WHIP POST: SDP offer in, SDP answer out, with a
// Location header naming the session resource.
func (g *Gateway) handleOffer(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/sdp") {
		http.Error(w, "expected application/sdp", http.StatusUnsupportedMediaType)
		return
	}
	offer, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize))
	if err != nil || len(offer) == 0 {
		http.Error(w, "empty offer", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	answer, err := g.startSession(sessionID, string(offer))
	if err != nil {
		g.logger.Error().Err(err).Msg("whip session setup failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	g.logger.Info().Str("session_id", sessionID).Msg("whip session started")
	if g.bus != nil {
		g.bus.Publish(events.EventWHIPSessionStart, events.Payload{"session_id": sessionID})
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", r.URL.Path+"/"+sessionID)
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, answer)
}

// handleDelete implements the WHIP DELETE: the publisher tears the session down.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	g.mu.RLock()
	s, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	g.endSession(s, "delete")
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) startSession(sessionID, offerSDP string) (string, error) {
	var iceServers []webrtc.ICEServer
	if g.config.STUNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{g.config.STUNServer}})
	}

	pc, err := g.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	s := &session{id: sessionID, pc: pc, done: make(chan struct{})}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return "", fmt.Errorf("add audio transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return "", fmt.Errorf("add video transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		g.logger.Info().
			Str("session_id", sessionID).
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Msg("whip track received")
		go g.forwardTrack(s, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		g.logger.Debug().
			Str("session_id", sessionID).
			Str("state", state.String()).
			Msg("whip connection state changed")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			g.endSession(s, state.String())
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	// WHIP answers carry the full candidate set; wait for ICE gathering.
	<-webrtc.GatheringCompletePromise(pc)

	g.mu.Lock()
	g.sessions[sessionID] = s
	g.mu.Unlock()

	return pc.LocalDescription().SDP, nil
}

// forwardTrack pumps one received track into the packet sink until the
// session ends.
func (g *Gateway) forwardTrack(s *session, track *webrtc.TrackRemote) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				g.logger.Debug().Err(err).Str("session_id", s.id).Msg("whip track read error")
			}
			return
		}
		if err := g.sink.WriteRTP(mediaKind(track.Kind()), pkt); err != nil {
			g.logger.Debug().Err(err).Str("session_id", s.id).Msg("whip sink write error")
		}
	}
}

func (g *Gateway) endSession(s *session, reason string) {
	s.once.Do(func() {
		close(s.done)
		s.pc.Close()

		g.mu.Lock()
		delete(g.sessions, s.id)
		remaining := len(g.sessions)
		g.mu.Unlock()

		g.logger.Info().
			Str("session_id", s.id).
			Str("reason", reason).
			Int("active_sessions", remaining).
			Msg("whip session ended")
		if g.bus != nil {
			g.bus.Publish(events.EventWHIPSessionEnd, events.Payload{
				"session_id": s.id,
				"reason":     reason,
			})
		}
	})
}

// SessionCount returns the number of active publish sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close tears down all active sessions.
func (g *Gateway) Close() error {
	g.mu.RLock()
	active := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		active = append(active, s)
	}
	g.mu.RUnlock()

	for _, s := range active {
		g.endSession(s, "shutdown")
	}
	return nil
}

func mediaKind(kind webrtc.RTPCodecType) string {
	if kind == webrtc.RTPCodecTypeVideo {
		return "video"
	}
	return "audio"
}
