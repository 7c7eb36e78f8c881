package mcpconfig

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the mcp.json file and re-checks the IDE config status
// whenever it changes, with debouncing since editors write in bursts.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	checker   *Checker
	debounce  time.Duration
	onStatus  chan Status
	done      chan struct{}
}

// DefaultDebounce smooths over editor save bursts.
const DefaultDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher for the checker's config file.
func NewWatcher(checker *Checker, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		checker:   checker,
		debounce:  debounce,
		onStatus:  make(chan Status, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the directory containing mcp.json. The file itself
// may not exist yet; creation counts as a change. Returns a channel carrying
// the re-checked status after each change.
func (w *Watcher) Start() (<-chan Status, error) {
	dir := filepath.Dir(w.checker.Path())
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	go w.loop()

	return w.onStatus, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onStatus <- w.checker.Check():
				default:
				}
				pending = false
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent filters to mutations of the config file itself, including
// the atomic rename our own Ensure performs.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	return filepath.Base(event.Name) == filepath.Base(w.checker.Path())
}
