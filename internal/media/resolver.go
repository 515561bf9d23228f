/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media resolves playlist file names to local paths the engine can
// open. Plain names pass through untouched; s3:// names are staged into a
// local cache directory before playout needs them.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/events"
)

// ObjectFetcher retrieves one object from remote storage.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Resolver maps playlist file names to local paths. It implements the
// resolver and prefetcher hooks of the source factory.
type Resolver struct {
	cacheDir string
	fetcher  ObjectFetcher
	bus      *events.Bus
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewResolver creates a resolver staging remote objects under cacheDir.
// fetcher may be nil, in which case s3:// names fail to resolve.
func NewResolver(cacheDir string, fetcher ObjectFetcher, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cacheDir: cacheDir,
		fetcher:  fetcher,
		logger:   logger.With().Str("component", "media").Logger(),
		inFlight: make(map[string]chan struct{}),
	}
}

// SetEventBus attaches the process event bus. Staged objects publish a
// media.staged event.
func (r *Resolver) SetEventBus(bus *events.Bus) { r.bus = bus }

// Resolve returns a local path for name, downloading s3:// objects into the
// cache on first use. Local names are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	bucket, key, ok := splitObjectName(name)
	if !ok {
		return name, nil
	}
	return r.stage(ctx, name, bucket, key)
}

// Prefetch stages name ahead of playout. Errors are logged, not returned;
// Resolve retries the download when the item actually starts.
func (r *Resolver) Prefetch(ctx context.Context, name string) {
	bucket, key, ok := splitObjectName(name)
	if !ok {
		return
	}
	if _, err := r.stage(ctx, name, bucket, key); err != nil {
		r.logger.Warn().Err(err).Str("name", name).Msg("prefetch failed")
	}
}

// stage downloads the object unless a cached copy exists. Concurrent calls
// for the same name share a single download.
func (r *Resolver) stage(ctx context.Context, name, bucket, key string) (string, error) {
	local := filepath.Join(r.cacheDir, bucket, filepath.FromSlash(key))

	for {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}

		r.mu.Lock()
		wait, busy := r.inFlight[name]
		if !busy {
			done := make(chan struct{})
			r.inFlight[name] = done
			r.mu.Unlock()

			err := r.download(ctx, bucket, key, local)

			r.mu.Lock()
			delete(r.inFlight, name)
			r.mu.Unlock()
			close(done)

			if err != nil {
				return "", err
			}
			return local, nil
		}
		r.mu.Unlock()

		select {
		case <-wait:
			// Loop; the winner either cached the file or failed.
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (r *Resolver) download(ctx context.Context, bucket, key, local string) error {
	if r.fetcher == nil {
		return fmt.Errorf("no object storage configured for s3://%s/%s", bucket, key)
	}

	start := time.Now()
	body, err := r.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Write to a temp file first so a partial download never looks cached.
	tmp, err := os.CreateTemp(filepath.Dir(local), ".staging-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	written, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("stage s3://%s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize staged file: %w", err)
	}

	r.logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", written).
		Dur("took", time.Since(start)).
		Msg("media staged")

	if r.bus != nil {
		r.bus.Publish(events.EventMediaStaged, events.Payload{
			"name":  "s3://" + bucket + "/" + key,
			"path":  local,
			"bytes": written,
		})
	}
	return nil
}

// splitObjectName parses s3://bucket/key. ok is false for plain local names.
func splitObjectName(name string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(name, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
