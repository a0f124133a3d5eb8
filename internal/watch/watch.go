// Package watch triggers detection cycles from filesystem activity. A
// recursive fsnotify watcher covers the workspace, and a debounce window
// collapses editor save bursts into a single trigger.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Config controls what the watcher reacts to.
type Config struct {
	// Root is the workspace directory to watch recursively.
	Root string

	// Extensions limits triggering to files with these suffixes. Empty
	// means every file triggers.
	Extensions []string

	// IgnoreDirs are directory names skipped entirely (node_modules, .git).
	IgnoreDirs []string

	// Debounce is the quiet period after the last event before the
	// trigger fires.
	Debounce time.Duration
}

// DefaultConfig returns watcher defaults matching the workspace scanner.
func DefaultConfig(root string) Config {
	return Config{
		Root:       root,
		Extensions: []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"},
		IgnoreDirs: []string{"node_modules", ".git", "dist", "build", "coverage", ".next"},
		Debounce:   500 * time.Millisecond,
	}
}

// Watcher converts filesystem events into detection triggers.
type Watcher struct {
	cfg     Config
	watcher *fsnotify.Watcher
	trigger func()
	logger  *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a watcher that calls trigger after each debounced burst of
// relevant filesystem activity.
func New(cfg Config, trigger func(), logger *zap.Logger) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("root is required")
	}
	if trigger == nil {
		return nil, errors.New("trigger is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		cfg:     cfg,
		watcher: fsw,
		trigger: trigger,
		logger:  logger.Named("watch"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins processing events in a
// background goroutine. Call Stop to clean up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.cfg.Root); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.Root, err)
	}

	go w.run(ctx)

	w.logger.Info("watching workspace",
		zap.String("root", w.cfg.Root),
		zap.Duration("debounce", w.cfg.Debounce))
	return nil
}

// Stop stops the watcher and releases its resources. Safe to call more
// than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
		<-w.done
	}
}

// addTree registers root and every non-ignored subdirectory.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(d.Name()) && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories must be added to the watch set before
			// events inside them can be seen.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.ignored(filepath.Base(event.Name)) {
						_ = w.addTree(event.Name)
					}
					continue
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.cfg.Debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-fire:
			timer = nil
			fire = nil
			w.logger.Debug("filesystem activity settled, triggering cycle")
			w.trigger()
		}
	}
}

// relevant filters events down to file changes worth a detection cycle.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op.Has(fsnotify.Chmod) {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(event.Name), string(filepath.Separator)) {
		if w.ignored(part) {
			return false
		}
	}
	// Directory creations pass through so the tree stays covered.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return true
		}
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(event.Name)
	for _, want := range w.cfg.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(name string) bool {
	for _, dir := range w.cfg.IgnoreDirs {
		if name == dir {
			return true
		}
	}
	return false
}
