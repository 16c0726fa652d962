package sync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalEntry is one file or directory as observed live on the filesystem.
// Never persisted.
type LocalEntry struct {
	Name     string
	Path     string // absolute
	IsDir    bool
	ModTime  int64 // unix epoch seconds
	Children []*LocalEntry
}

// ReadLocalTree lists a directory recursively with per-entry modification
// timestamps. Unreadable entries are logged and skipped; only a failure to
// read the directory itself is an error.
func ReadLocalTree(dir string) ([]*LocalEntry, error) {
	return readLocalDir(dir, true)
}

// ReadLocalDir lists one level of a directory.
func ReadLocalDir(dir string) ([]*LocalEntry, error) {
	return readLocalDir(dir, false)
}

func readLocalDir(dir string, recurse bool) ([]*LocalEntry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read local dir %s: %w", dir, err)
	}

	entries := make([]*LocalEntry, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			// vanished between ReadDir and Info
			slog.Warn("local entry vanished", "dir", dir, "name", d.Name(), "error", err)
			continue
		}

		entry := &LocalEntry{
			Name:    d.Name(),
			Path:    filepath.Join(dir, d.Name()),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime().Unix(),
		}

		if entry.IsDir && recurse {
			children, err := readLocalDir(entry.Path, true)
			if err != nil {
				slog.Warn("skipping unreadable local dir", "path", entry.Path, "error", err)
				continue
			}
			entry.Children = children
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
