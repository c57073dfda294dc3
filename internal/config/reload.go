package config

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProviderReloader hot-reloads the enabled-provider list from a flat file
// (one provider id per line, '#' comments allowed), without requiring a
// worker restart. Callers read the current list via Enabled(); a disabled
// provider simply stops being scheduled by the next aggregator fan-out.
type ProviderReloader struct {
	path    string
	current atomic.Pointer[[]string]
	logger  *slog.Logger
}

// NewProviderReloader builds a ProviderReloader seeded with initial. If path
// is empty, Start is a no-op and Enabled always returns initial.
func NewProviderReloader(path string, initial []string, logger *slog.Logger) *ProviderReloader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ProviderReloader{path: path, logger: logger}
	snapshot := append([]string(nil), initial...)
	r.current.Store(&snapshot)
	return r
}

// Enabled returns the current enabled-provider list.
func (r *ProviderReloader) Enabled() []string {
	if p := r.current.Load(); p != nil {
		return *p
	}
	return nil
}

// Start begins watching the provider file for changes until ctx is
// canceled. If r.path is empty, Start returns nil immediately: the
// reloader stays on its seeded initial list for the process lifetime.
func (r *ProviderReloader) Start(ctx context.Context) error {
	if r.path == "" {
		r.logger.Info("provider hot-reload disabled (no file configured)")
		return nil
	}

	if err := r.reload(); err != nil {
		r.logger.Warn("initial provider file read failed, keeping seeded defaults", "path", r.path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *ProviderReloader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()

	var debounce *time.Timer
	const debounceDelay = 300 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := r.reload(); err != nil {
					r.logger.Error("provider file reload failed", "path", r.path, "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("provider file watcher error", "error", err)
		}
	}
}

func (r *ProviderReloader) reload() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var next []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, field := range splitCSV(stripComment(line)) {
			if _, dup := seen[field]; dup {
				continue
			}
			seen[field] = struct{}{}
			next = append(next, field)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	prev := r.Enabled()
	r.current.Store(&next)
	if !equalStrings(prev, next) {
		r.logger.Info("provider list reloaded", "path", r.path, "providers", next)
	}
	return nil
}

func stripComment(line string) string {
	for i, c := range line {
		if c == '#' {
			return line[:i]
		}
	}
	return line
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
