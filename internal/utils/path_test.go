package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"tilde", "~/data", filepath.Join(home, "data")},
		{"absolute", "/var/data", "/var/data"},
		{"redundant segments", "/var/data/../data", "/var/data"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolvePath(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err = ResolvePath("")
	assert.Error(t, err)
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "file.txt")
	require.NoError(t, EnsureParent(target))
	assert.True(t, DirExists(filepath.Dir(target)))

	// idempotent
	require.NoError(t, EnsureParent(target))
}

func TestExistenceChecks(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "nope")))
}
