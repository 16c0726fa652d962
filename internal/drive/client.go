// Package drive is the client for the remote drive service: a hierarchical
// object store addressing files and folders by opaque IDs, each carrying a
// last-modified timestamp.
package drive

import (
	"context"
	"io"
)

// RootID addresses the top-level folder of a drive.
const RootID = "root"

// Entry is one file or folder as reported by the drive.
type Entry struct {
	ID       string
	Name     string
	IsFolder bool
	ModTime  int64 // unix epoch seconds
}

// Client is the adapter surface the sync engine consumes. Implementations
// must map missing objects to ErrNotFound and transient transport failures
// to ErrUnavailable; retries with backoff belong inside the implementation,
// not in callers.
type Client interface {
	// ResolveFolder walks path segments from rootID and returns the folder
	// entry at the end of the path.
	ResolveFolder(ctx context.Context, rootID string, segments []string) (*Entry, error)

	// ListChildren returns the immediate children of a folder.
	ListChildren(ctx context.Context, folderID string) ([]*Entry, error)

	// FetchContent streams the content of a file. The caller closes it.
	FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error)

	// PushContent overwrites the content of an existing file.
	PushContent(ctx context.Context, fileID string, content io.Reader) error

	// CreateFile creates a new file under a folder and returns its entry.
	CreateFile(ctx context.Context, parentID, name string, content io.Reader) (*Entry, error)

	// CreateFolder creates a new empty folder under a folder.
	CreateFolder(ctx context.Context, parentID, name string) (*Entry, error)

	// Delete removes a file, or a folder and everything under it.
	Delete(ctx context.Context, id string) error
}
