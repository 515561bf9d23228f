/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata and a background check against the
// project's GitHub releases. A playout box usually runs unattended, so an
// available update is only logged and surfaced through Info, never acted on.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_switch/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// GitHubRepo is the repository checked for new releases.
const GitHubRepo = "friendsincode/grimnir_switch"

const checkPeriod = 6 * time.Hour

// UpdateInfo is the result of the most recent release check.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
	CheckedAt       time.Time
}

// Checker polls the GitHub releases API in the background.
type Checker struct {
	logger  zerolog.Logger
	client  *http.Client
	apiBase string
	cancel  context.CancelFunc

	mu   sync.RWMutex
	info UpdateInfo
}

// NewChecker creates an idle checker; Start begins polling.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:  logger.With().Str("component", "update-checker").Logger(),
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: "https://api.github.com",
		info:    UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks once immediately, then every checkPeriod until Stop.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.check(ctx)

	go func() {
		ticker := time.NewTicker(checkPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

// Stop ends background polling.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Info returns the latest check result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Checker) check(ctx context.Context) {
	url := c.apiBase + "/repos/" + GitHubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("build release request")
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Grimnir-Switch/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fetch latest release")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release check refused")
		return
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		c.logger.Debug().Err(err).Msg("decode release")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: newer(latest, Version),
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", release.HTMLURL).
			Msg("new version available")
	}
}

// newer reports whether semver a is strictly greater than b. Non-numeric
// segments count as zero.
func newer(a, b string) bool {
	av, bv := parts(a), parts(b)
	for i := range av {
		if av[i] != bv[i] {
			return av[i] > bv[i]
		}
	}
	return false
}

func parts(v string) [3]int {
	var out [3]int
	segs := strings.Split(strings.TrimPrefix(v, "v"), ".")
	for i := 0; i < len(segs) && i < 3; i++ {
		if n, err := strconv.Atoi(strings.TrimSpace(segs[i])); err == nil {
			out[i] = n
		}
	}
	return out
}
