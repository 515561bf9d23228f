/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import "errors"

var (
	// ErrNoListener indicates an item references a listener-mode SRT or
	// RTMP port for which no listener was pre-created.
	ErrNoListener = errors.New("no listener registered")

	// ErrUnknownSourceType indicates an unhandled source variant.
	ErrUnknownSourceType = errors.New("unknown source type")

	// ErrPlaylistExhausted indicates the source index has moved past the
	// last playlist item.
	ErrPlaylistExhausted = errors.New("playlist exhausted")

	// ErrNotStarted indicates Switch was called before Start.
	ErrNotStarted = errors.New("controller not started")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("controller already started")
)
