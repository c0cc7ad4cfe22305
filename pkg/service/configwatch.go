// Zaparoo Lens
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Lens.
//
// Zaparoo Lens is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Lens is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Lens.  If not, see <http://www.gnu.org/licenses/>.

package service

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// configWatcher reloads the config file when it changes on disk. Only
// settings read at use time take effect; protocol timings and the API
// listener need a restart.
type configWatcher struct {
	watcher   *fsnotify.Watcher
	cfg       *config.Instance
	done      chan struct{}
	closeOnce sync.Once
}

// watchConfig watches the config directory rather than the file itself
// so editors that save by rename are still seen.
func watchConfig(cfg *config.Instance) (*configWatcher, error) {
	path := cfg.Path()
	if path == "" {
		return nil, config.ErrNoPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &configWatcher{
		watcher: watcher,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	go w.listen(filepath.Clean(path))
	return w, nil
}

func (w *configWatcher) listen(path string) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("error in config watcher")
		}
	}
}

func (w *configWatcher) reload() {
	if err := w.cfg.Load(); err != nil {
		log.Error().Err(err).Msg("config changed on disk but failed to load, keeping previous values")
		return
	}
	helpers.SetDebugLogging(w.cfg.DebugLogging())
	log.Info().Msg("reloaded config from disk")
}

func (w *configWatcher) Close() {
	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			log.Error().Err(err).Msg("error closing config watcher")
		}
		<-w.done
	})
}
