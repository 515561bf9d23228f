/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
)

// SwitcherBinding is the thin adapter between controller slot state and the
// engine's smooth switcher.
type SwitcherBinding struct {
	switcher engine.Switcher
	logger   zerolog.Logger
}

// NewSwitcherBinding wraps a switcher node.
func NewSwitcherBinding(sw engine.Switcher, logger zerolog.Logger) *SwitcherBinding {
	return &SwitcherBinding{
		switcher: sw,
		logger:   logger.With().Str("component", "switcher-binding").Logger(),
	}
}

// Publish replaces the switcher's complete pin subscription set.
func (b *SwitcherBinding) Publish(subs []engine.PinSubscription) error {
	if err := b.switcher.SubscribeToPins(subs); err != nil {
		return fmt.Errorf("subscribe to pins: %w", err)
	}
	b.logger.Debug().Int("subs", len(subs)).Msg("pin subscriptions published")
	return nil
}

// Switch commands a crossfade to the given pin.
func (b *SwitcherBinding) Switch(pin string) error {
	if err := b.switcher.SwitchSource(pin); err != nil {
		return fmt.Errorf("switch to pin %s: %w", pin, err)
	}
	b.logger.Info().Str("pin", pin).Msg("switch commanded")
	return nil
}
