package drive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDriveResolveFolder(t *testing.T) {
	drv := NewMemDrive()
	docsID := drv.MustAddFolder(RootID, "docs", 10)
	drv.MustAddFolder(docsID, "sub", 20)
	drv.MustAddFile(docsID, "file.txt", []byte("x"), 30)

	entry, err := drv.ResolveFolder(context.Background(), RootID, []string{"docs", "sub"})
	require.NoError(t, err)
	assert.True(t, entry.IsFolder)
	assert.Equal(t, "sub", entry.Name)

	_, err = drv.ResolveFolder(context.Background(), RootID, []string{"docs", "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	// a file segment is not a folder
	_, err = drv.ResolveFolder(context.Background(), RootID, []string{"docs", "file.txt"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemDriveContentRoundTrip(t *testing.T) {
	drv := NewMemDrive()
	entry, err := drv.CreateFile(context.Background(), RootID, "file.txt", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)

	rc, err := drv.FetchContent(context.Background(), entry.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "v1", string(data))

	require.NoError(t, drv.PushContent(context.Background(), entry.ID, bytes.NewReader([]byte("v2"))))
	assert.Equal(t, "v2", string(drv.Content(entry.ID)))
}

func TestMemDriveDeleteRemovesSubtree(t *testing.T) {
	drv := NewMemDrive()
	docsID := drv.MustAddFolder(RootID, "docs", 10)
	fileID := drv.MustAddFile(docsID, "file.txt", []byte("x"), 20)

	require.NoError(t, drv.Delete(context.Background(), docsID))

	assert.Nil(t, drv.Stat(docsID))
	assert.Nil(t, drv.Stat(fileID))
	assert.Nil(t, drv.LookupPath("docs"))

	err := drv.Delete(context.Background(), fileID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemDriveMutationCount(t *testing.T) {
	drv := NewMemDrive()
	// test helpers do not count as mutations
	docsID := drv.MustAddFolder(RootID, "docs", 10)
	require.Zero(t, drv.Mutations())

	_, err := drv.CreateFile(context.Background(), docsID, "file.txt", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, drv.Mutations())

	require.NoError(t, drv.Delete(context.Background(), docsID))
	assert.Equal(t, 2, drv.Mutations())
}
