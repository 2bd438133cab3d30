package config

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// ParamsStore serves the current reliability section to the orchestrator and
// swaps it atomically on reload.
type ParamsStore struct {
	current atomic.Pointer[ReliabilityConfig]
}

func NewParamsStore(r ReliabilityConfig) *ParamsStore {
	s := &ParamsStore{}
	s.current.Store(&r)
	return s
}

func (s *ParamsStore) Resolve(key domain.AssetKey) domain.ReliabilityParams {
	return s.current.Load().Resolve(key)
}

// Update replaces the reliability section. Callers pass validated config.
func (s *ParamsStore) Update(r ReliabilityConfig) {
	s.current.Store(&r)
}

var _ ports.ParamsResolver = (*ParamsStore)(nil)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written. It runs until ctx is cancelled.
// Reloads that fail to parse or validate are logged and skipped.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so creates count too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}

			logger.Info("config: reloaded", "path", path)
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "err", err)
		}
	}
}
