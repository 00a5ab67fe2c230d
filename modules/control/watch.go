package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/e7canasta/filtercam/modules/filter"
)

// LoadFilterFunc reads the configured default filter from path.
type LoadFilterFunc func(path string) (filter.Kind, error)

// WatchOptions configures WatchConfig.
type WatchOptions struct {
	Path     string
	Debounce time.Duration // default 500ms
	Load     LoadFilterFunc
	// Apply sets the filter. Defaults to Selector.Set.
	Apply func(kind filter.Kind)
}

// WatchConfig follows the config file and applies filter.default to the
// selector whenever its value in the file changes. Other edits are ignored,
// so a filter chosen at runtime survives unrelated config saves.
// Blocks until ctx is done.
func WatchConfig(ctx context.Context, opts WatchOptions, selector *filter.Selector) error {
	if opts.Load == nil {
		return fmt.Errorf("control: watch %s: no loader", opts.Path)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Apply == nil {
		opts.Apply = selector.Set
	}

	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return fmt.Errorf("control: resolve %s: %w", opts.Path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("control: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which drops a
	// watch held on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("control: watch %s: %w", abs, err)
	}

	var (
		mu   sync.Mutex
		last filter.Kind
		seen bool
	)
	if kind, err := opts.Load(abs); err == nil {
		last, seen = kind, true
	}

	reload := func() {
		kind, err := opts.Load(abs)
		if err != nil {
			slog.Warn("control: config reload failed, keeping current filter", "path", abs, "error", err)
			return
		}

		mu.Lock()
		changed := !seen || kind != last
		last, seen = kind, true
		mu.Unlock()

		if !changed {
			slog.Debug("control: config changed, filter.default unchanged", "path", abs)
			return
		}
		slog.Info("control: filter.default changed in config", "path", abs, "filter", kind.String())
		opts.Apply(kind)
	}

	deb := newDebouncer(opts.Debounce, reload)
	defer deb.stop()

	slog.Info("control: watching config", "path", abs, "debounce", opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			deb.trigger()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("control: watcher error", "error", err)
		}
	}
}
