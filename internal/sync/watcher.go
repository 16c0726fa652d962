package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	defaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	defaultDebounceTimeout = 50 * time.Millisecond
	eventBufferSize        = 64
)

// FilterCallback returns true if the event should be dropped before
// debouncing.
type FilterCallback func(path string) bool

// Watcher subscribes recursively to one local root and emits debounced
// change events. Paths the engine is about to write itself are suppressed
// through IgnoreOnce so a pull does not come back as a local change.
type Watcher struct {
	watchDir        string
	events          chan notify.EventInfo
	rawEvents       chan notify.EventInfo
	ignore          map[string]time.Time
	ignoreMu        sync.Mutex
	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup

	// debouncing
	pendingEvents   map[string]notify.EventInfo
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration

	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewWatcher(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.EventInfo),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets the debounce timeout for events
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	w.filter = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := w.watchDir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	w.wg.Add(1)
	go w.cleanupExpiredEntries(ctx)

	return nil
}

func (w *Watcher) Stop() {
	slog.Debug("watcher stopping", "dir", w.watchDir)

	close(w.done)

	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}

	w.wg.Wait()
	slog.Info("watcher stopped", "dir", w.watchDir)
}

func (w *Watcher) Events() <-chan notify.EventInfo {
	return w.events
}

// IgnoreOnce suppresses the next event for a path within the default window.
func (w *Watcher) IgnoreOnce(path string) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(defaultIgnoreTimeout)
}

// isPathTemporarilyIgnored checks the ignore list and consumes the entry.
func (w *Watcher) isPathTemporarilyIgnored(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, exists := w.ignore[path]
	if !exists {
		return false
	}

	delete(w.ignore, path)
	return !time.Now().After(expiry)
}

// filterEvents drops filtered paths, debounces the rest and forwards them.
func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		// cancel pending timers and flush what was already due
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			if event, exists := w.pendingEvents[path]; exists {
				select {
				case w.events <- event:
				default:
					slog.Warn("watcher channel full during exit, dropping event", "path", path)
				}
			}
		}
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			w.filterMu.RLock()
			filter := w.filter
			w.filterMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}

			// inotify bursts WRITE events while a file is being written;
			// collapse them at the cost of debounceTimeout latency
			w.debounceEvent(event)
		}
	}
}

func (w *Watcher) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}

	w.pendingEvents[path] = event

	timer := time.AfterFunc(w.debounceTimeout, func() {
		w.flushEvent(path)
	})
	w.eventTimers[path] = timer
}

func (w *Watcher) flushEvent(path string) {
	w.debounceMu.Lock()
	event, exists := w.pendingEvents[path]
	if !exists {
		w.debounceMu.Unlock()
		return
	}
	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)
	w.debounceMu.Unlock()

	// checked at flush time so a write that landed during the debounce
	// window is still suppressed
	if w.isPathTemporarilyIgnored(path) {
		return
	}

	select {
	case w.events <- event:
		slog.Debug("watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("watcher dropped event", "reason", "channel full", "path", path)
	}
}

func (w *Watcher) cleanupExpiredEntries(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
