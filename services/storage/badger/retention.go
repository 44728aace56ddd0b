// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweepResult reports the outcome of one retention sweep.
type SweepResult struct {
	Scanned int
	Deleted int
	Failed  int
}

// RetentionSweeper deletes sessions older than a maximum age.
//
// Description:
//
//	Old conversations pile up in a single-node store with no external
//	cleanup. The sweeper walks all session documents on an interval and
//	deletes those whose CreatedAt has passed the retention window.
//	Follows the GCRunner start/stop lifecycle.
type RetentionSweeper struct {
	store    *SessionStore
	maxAge   time.Duration
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	now      func() time.Time
}

// NewRetentionSweeper creates a sweeper over the store. Call Start() to
// begin sweeping and Stop() to halt it.
func NewRetentionSweeper(store *SessionStore, maxAge, interval time.Duration) (*RetentionSweeper, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if maxAge <= 0 {
		return nil, errors.New("maxAge must be positive")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	return &RetentionSweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start begins periodic sweeping.
func (s *RetentionSweeper) Start() {
	go s.run()
}

// Stop halts sweeping and waits for the runner to finish.
func (s *RetentionSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *RetentionSweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			result, err := s.SweepOnce(context.Background())
			if err != nil {
				slog.Warn("Session retention sweep failed", "error", err)
				continue
			}
			if result.Deleted > 0 || result.Failed > 0 {
				slog.Info("Session retention sweep finished",
					"scanned", result.Scanned, "deleted", result.Deleted, "failed", result.Failed)
			}
		}
	}
}

// SweepOnce runs a single sweep immediately.
//
// Description:
//
//	Lists all sessions and deletes the expired ones. A delete that races
//	with a user deletion counts as done, not failed.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	// The summary listing carries CreatedAt, which is all expiry needs.
	summaries, err := s.store.List(ctx, int(^uint(0)>>1))
	if err != nil {
		return result, err
	}

	cutoff := s.now().Add(-s.maxAge).UnixMilli()
	for _, summary := range summaries {
		result.Scanned++
		if summary.CreatedAt >= cutoff {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := s.store.Delete(ctx, summary.SessionId)
		switch {
		case err == nil, errors.Is(err, ErrSessionNotFound):
			result.Deleted++
		default:
			result.Failed++
			slog.Warn("Failed to delete expired session", "sessionId", summary.SessionId, "error", err)
		}
	}
	return result, nil
}
