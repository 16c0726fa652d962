package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()

	watcher := NewWatcher(dir)
	watcher.SetDebounceTimeout(20 * time.Millisecond)
	require.NoError(t, watcher.Start(context.Background()))
	t.Cleanup(watcher.Stop)

	// give the inotify subscription a moment to attach
	time.Sleep(50 * time.Millisecond)
	return watcher
}

// collectEvents drains the watcher channel for a fixed window.
func collectEvents(w *Watcher, window time.Duration) []notify.EventInfo {
	var events []notify.EventInfo
	deadline := time.After(window)
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-deadline:
			return events
		}
	}
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	watcher := startTestWatcher(t, dir)

	path := filepath.Join(dir, "file.txt")
	for range 5 {
		require.NoError(t, os.WriteFile(path, []byte("burst"), 0o644))
	}

	events := collectEvents(watcher, 500*time.Millisecond)
	require.NotEmpty(t, events)
	assert.Len(t, events, 1)
	assert.Equal(t, path, events[0].Path())
}

func TestWatcherSeesNestedDirs(t *testing.T) {
	dir := t.TempDir()
	watcher := startTestWatcher(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	path := filepath.Join(dir, "a", "b", "deep.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	events := collectEvents(watcher, 500*time.Millisecond)
	paths := make([]string, 0, len(events))
	for _, event := range events {
		paths = append(paths, event.Path())
	}
	assert.Contains(t, paths, path)
}

func TestWatcherIgnoreOnce(t *testing.T) {
	dir := t.TempDir()
	watcher := startTestWatcher(t, dir)

	path := filepath.Join(dir, "pulled.txt")
	watcher.IgnoreOnce(path)
	require.NoError(t, os.WriteFile(path, []byte("engine write"), 0o644))

	events := collectEvents(watcher, 300*time.Millisecond)
	for _, event := range events {
		assert.NotEqual(t, path, event.Path())
	}

	// the suppression is consumed, the next write is a real event
	require.NoError(t, os.WriteFile(path, []byte("user write"), 0o644))
	events = collectEvents(watcher, 500*time.Millisecond)
	require.NotEmpty(t, events)
	assert.Equal(t, path, events[0].Path())
}

func TestWatcherFilterPaths(t *testing.T) {
	dir := t.TempDir()
	watcher := startTestWatcher(t, dir)
	watcher.FilterPaths(func(path string) bool {
		return strings.Contains(filepath.Base(path), ".tmp.")
	})

	tmpPath := filepath.Join(dir, ".mirrorbox.tmp.123")
	realPath := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(tmpPath, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(realPath, []byte("y"), 0o644))

	events := collectEvents(watcher, 500*time.Millisecond)
	require.NotEmpty(t, events)
	for _, event := range events {
		assert.NotEqual(t, tmpPath, event.Path())
	}
}
