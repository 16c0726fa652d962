package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorbox/mirrorbox/internal/config"
	"github.com/mirrorbox/mirrorbox/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *drive.MemDrive, string) {
	t.Helper()

	drv := drive.NewMemDrive()
	drv.MustAddFolder(drive.RootID, "mirror", 10)

	localDir := t.TempDir()
	cfg := &config.Config{
		Pairs:      []config.DirPair{{LocalDir: localDir, RemotePath: "/mirror"}},
		ServerURL:  "http://drive.test",
		LedgerPath: filepath.Join(t.TempDir(), "ledger.db"),
		Workers:    2,
	}

	return NewOrchestrator(cfg, drv), drv, localDir
}

func TestRunOnceSyncsPair(t *testing.T) {
	orch, drv, localDir := newTestOrchestrator(t)
	rootID := drv.LookupPath("mirror").ID
	drv.MustAddFile(rootID, "notes.txt", []byte("remote"), 100)

	report, err := orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions())

	data, err := os.ReadFile(filepath.Join(localDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))
}

func TestRunOnceTwiceConverges(t *testing.T) {
	orch, drv, localDir := newTestOrchestrator(t)
	rootID := drv.LookupPath("mirror").ID
	drv.MustAddFile(rootID, "notes.txt", []byte("remote"), 100)
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "draft.txt"), []byte("local"), 0o644))

	first, err := orch.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotZero(t, first.Actions())

	before := drv.Mutations()
	second, err := orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Actions())
	assert.Equal(t, before, drv.Mutations())
}

func TestRunFullSyncReportsResolveFailure(t *testing.T) {
	drv := drive.NewMemDrive()
	localDir := t.TempDir()
	cfg := &config.Config{
		Pairs:      []config.DirPair{{LocalDir: localDir, RemotePath: "/missing"}},
		ServerURL:  "http://drive.test",
		LedgerPath: filepath.Join(t.TempDir(), "ledger.db"),
		Workers:    2,
	}
	orch := NewOrchestrator(cfg, drv)

	report, err := orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedCount())
}

// Matched folders never gain ledger records; only the pair root binding and
// actually propagated entries do.
func TestRunOnceRecursiveFolderScenario(t *testing.T) {
	orch, drv, localDir := newTestOrchestrator(t)
	rootID := drv.LookupPath("mirror").ID
	drv.MustAddFolder(rootID, "B", 10)

	require.NoError(t, os.MkdirAll(filepath.Join(localDir, "B"), 0o755))
	filePath := filepath.Join(localDir, "B", "file.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	_, err := orch.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, drv.LookupPath("mirror", "B", "file.txt"))

	require.NoError(t, orch.ledger.Open())
	t.Cleanup(func() { orch.ledger.Close() })

	count, err := orch.ledger.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec, err := orch.ledger.ByLocalPath(filepath.Join(localDir, "B"))
	require.NoError(t, err)
	assert.Nil(t, rec, "matched folder must not be recorded")

	for _, path := range []string{localDir, filePath} {
		rec, err := orch.ledger.ByLocalPath(path)
		require.NoError(t, err)
		assert.NotNil(t, rec, path)
	}
}

func TestHandleLocalChangeEventFindsRecordedAncestor(t *testing.T) {
	orch, drv, localDir := newTestOrchestrator(t)
	rootID := drv.LookupPath("mirror").ID
	drv.MustAddFolder(rootID, "docs", 50)

	require.NoError(t, orch.ledger.Open())
	t.Cleanup(func() { orch.ledger.Close() })

	_, err := orch.RunFullSync(context.Background())
	require.NoError(t, err)

	// a brand new nested path; only "docs" has a ledger record, so the
	// event walk must climb up to it
	path := filepath.Join(localDir, "docs", "new", "deep.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, orch.HandleLocalChangeEvent(context.Background(), path))

	assert.NotNil(t, drv.LookupPath("mirror", "docs", "new", "deep.txt"))
}

func TestHandleLocalChangeEventOutsidePairs(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	// no ledger open needed, the path is dismissed before any lookup
	require.NoError(t, orch.HandleLocalChangeEvent(context.Background(), "/elsewhere/file.txt"))
}

func TestStartWatchesLocalChanges(t *testing.T) {
	orch, drv, localDir := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	path := filepath.Join(localDir, "live.txt")
	require.NoError(t, os.WriteFile(path, []byte("watched"), 0o644))

	require.Eventually(t, func() bool {
		return drv.LookupPath("mirror", "live.txt") != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStartRefusesSecondInstance(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	second := NewOrchestrator(orch.cfg, orch.drive)
	assert.Error(t, second.Start(ctx))
}
