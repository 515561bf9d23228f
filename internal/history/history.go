/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists a playout log: which playlist items started when,
// every switch command, and how each source ended.
package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// PlayEvent is one row of the playout log.
type PlayEvent struct {
	ID         string    `gorm:"primaryKey;size:36"`
	InstanceID string    `gorm:"size:64;index"`
	Kind       string    `gorm:"size:32;index"` // item_started, switch, source_ended
	ItemIndex  int       `gorm:"index"`
	SourceType string    `gorm:"size:32"`
	Pin        string    `gorm:"size:16"`
	Reason     string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"index"`
}

const (
	kindItemStarted = "item_started"
	kindSwitch      = "switch"
	kindSourceEnded = "source_ended"
)

// Service writes play events. Writes run on a background goroutine per call;
// the playout path never blocks on the database.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
	nodeID string
}

// NewService creates the history service.
func NewService(database *gorm.DB, nodeID string, logger zerolog.Logger) *Service {
	return &Service{
		db:     database,
		logger: logger.With().Str("component", "history").Logger(),
		nodeID: nodeID,
	}
}

// ItemStarted records the start of a playlist item.
func (s *Service) ItemStarted(index int, sourceType string) {
	s.record(PlayEvent{Kind: kindItemStarted, ItemIndex: index, SourceType: sourceType})
}

// SwitchIssued records a crossfade command.
func (s *Service) SwitchIssued(pin string) {
	s.record(PlayEvent{Kind: kindSwitch, Pin: pin})
}

// SourceEnded records an EOF or disconnect.
func (s *Service) SourceEnded(index int, reason string) {
	s.record(PlayEvent{Kind: kindSourceEnded, ItemIndex: index, Reason: reason})
}

func (s *Service) record(ev PlayEvent) {
	ev.ID = uuid.NewString()
	ev.InstanceID = s.nodeID
	ev.CreatedAt = time.Now().UTC()
	go func() {
		if err := s.db.Create(&ev).Error; err != nil {
			s.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("record play event failed")
		}
	}()
}

// Recent returns the latest n play events, newest first.
func (s *Service) Recent(n int) ([]PlayEvent, error) {
	var evs []PlayEvent
	err := s.db.Order("created_at DESC").Limit(n).Find(&evs).Error
	return evs, err
}
