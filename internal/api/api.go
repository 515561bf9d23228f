/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the playout control surface: status, manual switch,
// play history, and a websocket event feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/auth"
	"github.com/friendsincode/grimnir_switch/internal/events"
	"github.com/friendsincode/grimnir_switch/internal/history"
	"github.com/friendsincode/grimnir_switch/internal/logbuffer"
	"github.com/friendsincode/grimnir_switch/internal/playlist"
	"github.com/friendsincode/grimnir_switch/internal/telemetry"
)

// RoleOperator is required for mutating playout endpoints.
const RoleOperator = "operator"

// API exposes HTTP handlers.
type API struct {
	controller *playlist.Controller
	history    *history.Service
	jwtSecret  []byte
	bus        *events.Bus
	logBuffer  *logbuffer.Buffer
	logger     zerolog.Logger
}

// New creates the API wrapper.
func New(controller *playlist.Controller, hist *history.Service, jwtSecret []byte, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		controller: controller,
		history:    hist,
		jwtSecret:  jwtSecret,
		bus:        bus,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetLogBuffer exposes the in-memory log ring on /v1/logs.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) { a.logBuffer = buf }

// Router builds the control API router.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.TracingMiddleware("grimnirswitch-api"))
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(pr chi.Router) {
		pr.Use(auth.Middleware(a.jwtSecret))

		pr.Get("/playout/status", a.handleStatus)
		pr.With(a.requireRole(RoleOperator)).Post("/playout/next", a.handleNext)
		pr.Get("/history", a.handleHistory)
		pr.Get("/logs", a.handleLogs)
		pr.Get("/events", a.handleEvents)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Status())
}

// handleNext advances the playlist immediately, as if the current item had
// reached its scheduled end.
func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api", "playout.next")
	defer span.End()

	err := a.controller.Switch(ctx)
	switch {
	case errors.Is(err, playlist.ErrPlaylistExhausted):
		writeError(w, http.StatusConflict, "playlist_exhausted")
		return
	case errors.Is(err, playlist.ErrNotStarted):
		writeError(w, http.StatusConflict, "not_started")
		return
	case err != nil:
		a.logger.Error().Err(err).Msg("manual switch failed")
		writeError(w, http.StatusInternalServerError, "switch_failed")
		return
	}

	st := a.controller.Status()
	telemetry.AddSpanAttributes(span, map[string]any{
		"playout.current_index": st.CurrentIndex,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "switched",
		"current_index": st.CurrentIndex,
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	evs, err := a.history.Recent(limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusNotFound, "logs_disabled")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Limit:      200,
		Descending: true,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 10000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.logBuffer.Query(params),
		"stats":   a.logBuffer.Stats(),
	})
}

func (a *API) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !claims.HasRole(role) {
				writeError(w, http.StatusForbidden, "insufficient_role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// Server builds an http.Server for the control API. Header deadlines guard
// against slowloris; write deadlines stay off for the events websocket.
func (a *API) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
}
