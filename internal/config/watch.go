package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TenantsWatcher monitors the tenants file and invokes the supplied callback
// whenever it changes. Stop must be called to release filesystem resources.
type TenantsWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *TenantsWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchTenants loads directory.file once, hands the result to onChange, and
// reloads on every write, create or rename of that file. The parent directory
// is watched so editors that replace the file atomically are still seen.
func (l *Loader) WatchTenants(ctx context.Context, cfg Config, onChange func([]TenantConfig), onError func(error)) (*TenantsWatcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch tenants requires a change callback")
	}
	if cfg.Directory.File == "" {
		return nil, errors.New("config: no tenants file configured for watching")
	}

	targetFile := cfg.Directory.File
	if path, err := filepath.Abs(targetFile); err == nil {
		targetFile = path
	}
	targetFile = filepath.Clean(targetFile)

	tenants, err := LoadTenants(targetFile)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch tenants: %w", err)
	}
	if err := watcher.Add(filepath.Dir(targetFile)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(targetFile), err)
	}
	onChange(tenants)

	done := make(chan struct{})
	watch := &TenantsWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch tenants close: %w", err))
			}
		}()

		reload := func() {
			tenants, err := LoadTenants(targetFile)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(tenants)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != targetFile {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: tenants file %s removed", targetFile))
				}
				// A removed file keeps the last snapshot; the reload error is reported
				// and the next create brings the file back.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
