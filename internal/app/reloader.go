package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 400 * time.Millisecond

// Reloader watches the provider file's directory and re-applies the file
// after writes settle. Editors often replace the file by rename, so the
// directory is watched rather than the file itself.
type Reloader struct {
	manager  *ProviderManager
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)

	mu      sync.Mutex
	timer   *time.Timer
	watcher *fsnotify.Watcher
}

func NewReloader(manager *ProviderManager, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		manager:  manager,
		path:     filepath.Clean(manager.path),
		debounce: defaultReloadDebounce,
		logger:   logger,
	}
}

// Start begins watching; it stops when ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	r.logger.Info("watching provider file", slog.String("path", r.path))
	go r.run(ctx, watcher)
	return nil
}

func (r *Reloader) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.timer != nil {
				r.timer.Stop()
			}
			r.mu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				r.schedule(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("provider file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (r *Reloader) schedule(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		reloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err := r.manager.Reload(reloadCtx)
		if err != nil {
			r.logger.Error("provider file reload failed, keeping previous configuration", slog.String("error", err.Error()))
		} else {
			r.logger.Info("provider file reloaded", slog.String("path", r.path))
		}
		if r.onReload != nil {
			r.onReload(err)
		}
	})
}
