package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLocalTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "sub", "deep.txt"), []byte("y"), 0o644))

	stamp := time.Unix(1_700_000_000, 0)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "top.txt"), stamp, stamp))

	entries, err := ReadLocalTree(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := make(map[string]*LocalEntry)
	for _, entry := range entries {
		byName[entry.Name] = entry
	}

	top := byName["top.txt"]
	require.NotNil(t, top)
	assert.False(t, top.IsDir)
	assert.Equal(t, stamp.Unix(), top.ModTime)
	assert.Equal(t, filepath.Join(dir, "top.txt"), top.Path)

	docs := byName["docs"]
	require.NotNil(t, docs)
	assert.True(t, docs.IsDir)
	require.Len(t, docs.Children, 1)
	sub := docs.Children[0]
	assert.True(t, sub.IsDir)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "deep.txt", sub.Children[0].Name)
}

func TestReadLocalDirSingleLevel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "inner.txt"), []byte("x"), 0o644))

	entries, err := ReadLocalDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir)
	assert.Nil(t, entries[0].Children)
}

func TestReadLocalTreeMissingDir(t *testing.T) {
	_, err := ReadLocalTree(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
