package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	spacebot "github.com/nevindra/spacebot"
)

// debounceWindow coalesces bursts of file events (editors write config
// files several times per save) into a single reload.
const debounceWindow = 2 * time.Second

// Watcher re-parses the config file when it changes on disk. Change events
// are debounced over a 2-second window and the file content is hashed so
// touch-without-change never triggers a reload. Parse or validation errors
// keep the previous config; OnReload is only called with a good one.
type Watcher struct {
	path     string
	logger   *slog.Logger
	lastHash [sha256.Size]byte

	// OnReload receives each successfully parsed new config.
	OnReload func(Config)
}

// NewWatcher creates a watcher for the given config path. The initial
// content hash is recorded so the first spurious event is ignored.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = spacebot.NopLogger()
	}
	w := &Watcher{path: path, logger: logger}
	if data, err := os.ReadFile(path); err == nil {
		w.lastHash = sha256.Sum256(data)
	}
	return w
}

// Run watches until ctx is cancelled. The parent directory is watched (not
// the file) so atomic rename-into-place saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Restart the debounce window on every event in the burst.
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error("config reload: read failed, keeping previous config", "error", err)
		return
	}

	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		w.logger.Debug("config reload: content unchanged, skipping")
		return
	}

	cfg, err := Parse(data)
	if err != nil {
		w.logger.Error("config reload: parse failed, keeping previous config", "error", err)
		return
	}

	w.lastHash = hash
	w.logger.Info("config reloaded", "path", w.path)
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
