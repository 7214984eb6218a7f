// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ScheduleHandler receives a reloaded schedule.
type ScheduleHandler func(ScheduleConfig)

// Watcher reloads the config file when it changes and hands the new
// schedule to a handler.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by rename are seen. Events are debounced. A reload that fails to
// parse or validate is logged and ignored; the previous schedule stays in
// effect. Only the schedule is applied live; every other section needs a
// restart.
//
// # Thread Safety
//
// The handler is called from a single goroutine.
type Watcher struct {
	path     string
	handler  ScheduleHandler
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	current  ScheduleConfig
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 250 * time.Millisecond

// NewWatcher prepares a watcher for path. current is the schedule already
// in effect; reloads that do not change it are not reported.
func NewWatcher(path string, current ScheduleConfig, handler ScheduleHandler, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher: empty path")
	}
	if handler == nil {
		return nil, fmt.Errorf("config watcher: nil handler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		handler:  handler,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  fw,
		current:  current,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload rejected, keeping current schedule", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	changed := cfg.Schedule.Interval != w.current.Interval ||
		cfg.Schedule.InterUserDelay != w.current.InterUserDelay
	if changed {
		w.current.Interval = cfg.Schedule.Interval
		w.current.InterUserDelay = cfg.Schedule.InterUserDelay
	}
	next := w.current
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("Config reloaded",
		"interval", next.Interval.String(),
		"inter_user_delay", next.InterUserDelay.String(),
	)
	w.handler(next)
}

// Current returns the last applied schedule.
func (w *Watcher) Current() ScheduleConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
