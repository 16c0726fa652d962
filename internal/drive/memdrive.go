package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemDrive is an in-memory drive used in tests. It implements the same
// contract as the HTTP client, including ErrNotFound semantics, and counts
// mutations so tests can assert that a pass produced no actions.
type MemDrive struct {
	mu        sync.RWMutex
	objects   map[string]*memObject
	mutations int

	// Now supplies object timestamps for creates and overwrites.
	Now func() time.Time
}

type memObject struct {
	id       string
	name     string
	parent   string
	folder   bool
	modTime  int64
	content  []byte
	children map[string]string // name -> id
}

var _ Client = (*MemDrive)(nil)

func NewMemDrive() *MemDrive {
	root := &memObject{
		id:       RootID,
		name:     "",
		folder:   true,
		children: make(map[string]string),
	}
	return &MemDrive{
		objects: map[string]*memObject{RootID: root},
		Now:     time.Now,
	}
}

func (m *MemDrive) ResolveFolder(ctx context.Context, rootID string, segments []string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[rootID]
	if !ok || !obj.folder {
		return nil, fmt.Errorf("memdrive: resolve %q: %w", rootID, ErrNotFound)
	}
	for _, segment := range segments {
		childID, ok := obj.children[segment]
		if !ok {
			return nil, fmt.Errorf("memdrive: resolve segment %q: %w", segment, ErrNotFound)
		}
		obj = m.objects[childID]
		if !obj.folder {
			return nil, fmt.Errorf("memdrive: segment %q is a file: %w", segment, ErrNotFound)
		}
	}
	return obj.toEntry(), nil
}

func (m *MemDrive) ListChildren(ctx context.Context, folderID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[folderID]
	if !ok || !obj.folder {
		return nil, fmt.Errorf("memdrive: list %q: %w", folderID, ErrNotFound)
	}

	entries := make([]*Entry, 0, len(obj.children))
	for _, childID := range obj.children {
		entries = append(entries, m.objects[childID].toEntry())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *MemDrive) FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[fileID]
	if !ok || obj.folder {
		return nil, fmt.Errorf("memdrive: fetch %q: %w", fileID, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

func (m *MemDrive) PushContent(ctx context.Context, fileID string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[fileID]
	if !ok || obj.folder {
		return fmt.Errorf("memdrive: push %q: %w", fileID, ErrNotFound)
	}
	obj.content = data
	obj.modTime = m.Now().Unix()
	m.mutations++
	return nil
}

func (m *MemDrive) CreateFile(ctx context.Context, parentID, name string, content io.Reader) (*Entry, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(parentID, name, false, data)
}

func (m *MemDrive) CreateFolder(ctx context.Context, parentID, name string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(parentID, name, true, nil)
}

func (m *MemDrive) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return fmt.Errorf("memdrive: delete %q: %w", id, ErrNotFound)
	}
	if parent, ok := m.objects[obj.parent]; ok {
		delete(parent.children, obj.name)
	}
	m.remove(obj)
	m.mutations++
	return nil
}

func (m *MemDrive) create(parentID, name string, folder bool, data []byte) (*Entry, error) {
	parent, ok := m.objects[parentID]
	if !ok || !parent.folder {
		return nil, fmt.Errorf("memdrive: create under %q: %w", parentID, ErrNotFound)
	}
	if _, exists := parent.children[name]; exists {
		return nil, fmt.Errorf("memdrive: create %q: name already taken", name)
	}

	obj := &memObject{
		id:      uuid.NewString(),
		name:    name,
		parent:  parentID,
		folder:  folder,
		modTime: m.Now().Unix(),
		content: data,
	}
	if folder {
		obj.children = make(map[string]string)
	}
	m.objects[obj.id] = obj
	parent.children[name] = obj.id
	m.mutations++
	return obj.toEntry(), nil
}

func (m *MemDrive) remove(obj *memObject) {
	for _, childID := range obj.children {
		m.remove(m.objects[childID])
	}
	delete(m.objects, obj.id)
}

func (o *memObject) toEntry() *Entry {
	return &Entry{
		ID:       o.id,
		Name:     o.name,
		IsFolder: o.folder,
		ModTime:  o.modTime,
	}
}

// Test helpers below.

// MustAddFolder creates a folder with an explicit timestamp, panicking on error.
func (m *MemDrive) MustAddFolder(parentID, name string, modTime int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.create(parentID, name, true, nil)
	if err != nil {
		panic(err)
	}
	m.objects[entry.ID].modTime = modTime
	m.mutations--
	return entry.ID
}

// MustAddFile creates a file with an explicit timestamp, panicking on error.
func (m *MemDrive) MustAddFile(parentID, name string, content []byte, modTime int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.create(parentID, name, false, content)
	if err != nil {
		panic(err)
	}
	m.objects[entry.ID].modTime = modTime
	m.mutations--
	return entry.ID
}

// SetModTime rewrites an object's timestamp without counting a mutation.
func (m *MemDrive) SetModTime(id string, modTime int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[id]; ok {
		obj.modTime = modTime
	}
}

// Stat returns the entry for an object, or nil if it does not exist.
func (m *MemDrive) Stat(id string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil
	}
	return obj.toEntry()
}

// LookupPath resolves a path of names from the root and returns the entry,
// or nil if any segment is missing.
func (m *MemDrive) LookupPath(segments ...string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj := m.objects[RootID]
	for _, segment := range segments {
		childID, ok := obj.children[segment]
		if !ok {
			return nil
		}
		obj = m.objects[childID]
	}
	return obj.toEntry()
}

// Content returns a copy of a file's content, or nil for missing objects.
func (m *MemDrive) Content(id string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[id]
	if !ok || obj.folder {
		return nil
	}
	return append([]byte(nil), obj.content...)
}

// Mutations returns the number of state-changing calls served.
func (m *MemDrive) Mutations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutations
}
