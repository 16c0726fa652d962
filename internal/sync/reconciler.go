package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mirrorbox/mirrorbox/internal/drive"
	"github.com/mirrorbox/mirrorbox/internal/utils"
)

const localTmpPattern = ".mirrorbox.tmp.*"

// errTypeMismatch marks a name that is a file on one side and a folder on
// the other. Nothing propagates for it until one side is removed.
var errTypeMismatch = errors.New("sync: file and folder share the same name")

// WriteIgnorer suppresses the watcher event for a write the engine itself is
// about to perform, so a pull does not come back as a local change.
type WriteIgnorer interface {
	IgnoreOnce(path string)
}

type noopIgnorer struct{}

func (noopIgnorer) IgnoreOnce(string) {}

// Reconciler is the recursive tree diff/merge. Given one folder level's
// local and remote listings it resolves every name on either side to exactly
// one action (create, overwrite, delete, recurse, no-op), consults the
// ledger to tell genuinely new changes from residue of a prior propagation,
// and recurses into matched folders. Failures are per-entry and land in the
// pass report; they never abort the pass.
type Reconciler struct {
	drive   drive.Client
	ledger  *Ledger
	locks   *pathLocks
	ignorer WriteIgnorer
	sem     chan struct{}
	now     func() time.Time
}

func NewReconciler(client drive.Client, ledger *Ledger, workers int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler{
		drive:   client,
		ledger:  ledger,
		locks:   newPathLocks(),
		ignorer: noopIgnorer{},
		sem:     make(chan struct{}, workers),
		now:     time.Now,
	}
}

// SetIgnorer wires the watcher's ignore-once list into local writes.
func (r *Reconciler) SetIgnorer(ignorer WriteIgnorer) {
	if ignorer != nil {
		r.ignorer = ignorer
	}
}

// pass carries the per-pass state through the recursion: the shared report,
// the remote folder IDs already visited (cycle guard), and the wait group
// for concurrently reconciled sibling folders.
type pass struct {
	report  *PassReport
	visited mapset.Set[string]
	wg      sync.WaitGroup
}

func newPass(report *PassReport, rootFolderID string) *pass {
	p := &pass{
		report:  report,
		visited: mapset.NewSet[string](),
	}
	p.visited.Add(rootFolderID)
	return p
}

// Reconcile merges one folder level and recurses into matched sub-folders.
// local and remote are the children of localDir and remoteFolderID.
func (r *Reconciler) Reconcile(ctx context.Context, localDir, remoteFolderID string, local []*LocalEntry, remote []*drive.Entry, report *PassReport) {
	p := newPass(report, remoteFolderID)
	r.reconcileFolder(ctx, p, localDir, remoteFolderID, local, remote)
	p.wg.Wait()
}

// ReconcileName reconciles a single name within one folder pair, driven by a
// filesystem change event. Listings are filtered to the affected name so
// untouched siblings cost nothing.
func (r *Reconciler) ReconcileName(ctx context.Context, localDir, remoteFolderID, name string, report *PassReport) error {
	locals, err := ReadLocalDir(localDir)
	if err != nil {
		return err
	}
	var local []*LocalEntry
	for _, entry := range locals {
		if entry.Name != name {
			continue
		}
		if entry.IsDir {
			children, err := ReadLocalTree(entry.Path)
			if err != nil {
				return err
			}
			entry.Children = children
		}
		local = append(local, entry)
		break
	}

	remotes, err := r.drive.ListChildren(ctx, remoteFolderID)
	if err != nil {
		return err
	}
	var remote []*drive.Entry
	for _, entry := range remotes {
		if entry.Name == name {
			remote = append(remote, entry)
			break
		}
	}

	if len(local) == 0 && len(remote) == 0 {
		// gone on both sides; clear any leftover record
		path := filepath.Join(localDir, name)
		unlock := r.locks.Lock(path)
		defer unlock()
		rec, err := r.ledger.ByLocalPath(path)
		if err != nil {
			return err
		}
		if rec != nil {
			return r.ledger.DeleteTree(path)
		}
		return nil
	}

	p := newPass(report, remoteFolderID)
	r.reconcileFolder(ctx, p, localDir, remoteFolderID, local, remote)
	p.wg.Wait()
	return nil
}

func (r *Reconciler) reconcileFolder(ctx context.Context, p *pass, localDir, folderID string, local []*LocalEntry, remote []*drive.Entry) {
	byName := make(map[string]*LocalEntry, len(local))
	for _, entry := range local {
		byName[entry.Name] = entry
	}

	matched := mapset.NewThreadUnsafeSet[string]()

	for _, rem := range remote {
		if ctx.Err() != nil {
			return
		}
		if rem.IsFolder {
			r.remoteFolder(ctx, p, localDir, rem, byName[rem.Name], matched)
		} else {
			r.remoteFile(ctx, p, localDir, rem, byName[rem.Name], matched)
		}
	}

	// local-only residual, computed after the whole remote pass
	for _, entry := range local {
		if ctx.Err() != nil {
			return
		}
		if matched.Contains(entry.Name) {
			continue
		}
		r.localOnly(ctx, p, folderID, entry)
	}
}

func (r *Reconciler) remoteFolder(ctx context.Context, p *pass, localDir string, rem *drive.Entry, local *LocalEntry, matched mapset.Set[string]) {
	path := filepath.Join(localDir, rem.Name)

	if local != nil {
		matched.Add(rem.Name)
		if !local.IsDir {
			p.report.AddFailure(path, errTypeMismatch)
			p.report.noteSkipped()
			return
		}
	}

	if !p.visited.Add(rem.ID) {
		slog.Warn("remote folder listed twice in one pass, skipping", "path", path, "id", rem.ID)
		return
	}

	var children []*LocalEntry
	if local == nil {
		rec, err := r.ledger.ByRemoteID(rem.ID)
		if err != nil {
			p.report.AddFailure(path, err)
			return
		}
		if rec != nil {
			// the local folder was deleted since the last sync
			slog.Debug("folder removed locally", "path", rec.LocalPath)
			r.deleteRemote(ctx, p, rec.LocalPath, rem.ID)
			return
		}

		// new folder at the remote
		slog.Debug("creating local folder", "path", path)
		unlock := r.locks.Lock(path)
		err = r.createLocalFolder(path, rem.ID, rem.ModTime)
		unlock()
		if err != nil {
			p.report.AddFailure(path, err)
			return
		}
		p.report.noteCreatedLocal(0)
	} else {
		children = local.Children
	}

	folderID := rem.ID
	r.maybeAsync(p, func() {
		remoteChildren, err := r.drive.ListChildren(ctx, folderID)
		if err != nil {
			r.reportDriveErr(p, path, err)
			return
		}
		r.reconcileFolder(ctx, p, path, folderID, children, remoteChildren)
	})
}

func (r *Reconciler) remoteFile(ctx context.Context, p *pass, localDir string, rem *drive.Entry, local *LocalEntry, matched mapset.Set[string]) {
	path := filepath.Join(localDir, rem.Name)

	if local != nil {
		matched.Add(rem.Name)
		if local.IsDir {
			p.report.AddFailure(path, errTypeMismatch)
			p.report.noteSkipped()
			return
		}
	}

	if local == nil {
		rec, err := r.ledger.ByRemoteID(rem.ID)
		if err != nil {
			p.report.AddFailure(path, err)
			return
		}
		if rec != nil {
			// the local file was deleted since the last sync
			slog.Debug("file removed locally", "path", rec.LocalPath)
			r.deleteRemote(ctx, p, rec.LocalPath, rem.ID)
			return
		}

		// new file at the remote: pull to create
		slog.Debug("creating local file", "path", path)
		unlock := r.locks.Lock(path)
		defer unlock()
		n, err := r.pullFile(ctx, path, rem.ID)
		if err != nil {
			r.reportDriveErr(p, path, err)
			return
		}
		if err := r.ledger.Upsert(path, rem.ID, r.now().Unix(), rem.ModTime); err != nil {
			p.report.AddFailure(path, err)
			return
		}
		p.report.noteCreatedLocal(n)
		return
	}

	unlock := r.locks.Lock(path)
	defer unlock()

	switch {
	case local.ModTime > rem.ModTime:
		rec, err := r.ledger.ByLocalPath(path)
		if err != nil {
			p.report.AddFailure(path, err)
			return
		}
		if rec != nil && local.ModTime <= rec.LastLocalModified {
			// local only looks newer because a prior pass pulled it
			p.report.noteUnchanged()
			return
		}
		slog.Debug("pushing local file", "path", path, "local", local.ModTime, "remote", rem.ModTime)
		n, err := r.pushFile(ctx, path, rem.ID)
		if err != nil {
			r.reportDriveErr(p, path, err)
			return
		}
		if err := r.ledger.Upsert(path, rem.ID, local.ModTime, r.now().Unix()); err != nil {
			p.report.AddFailure(path, err)
			return
		}
		p.report.notePushed(n)

	case rem.ModTime > local.ModTime:
		rec, err := r.ledger.ByLocalPath(path)
		if err != nil {
			p.report.AddFailure(path, err)
			return
		}
		if rec != nil && rem.ModTime <= rec.LastRemoteModified {
			// remote only looks newer because a prior pass pushed it
			p.report.noteUnchanged()
			return
		}
		slog.Debug("pulling remote file", "path", path, "local", local.ModTime, "remote", rem.ModTime)
		n, err := r.pullFile(ctx, path, rem.ID)
		if err != nil {
			r.reportDriveErr(p, path, err)
			return
		}
		if err := r.ledger.Upsert(path, rem.ID, r.now().Unix(), rem.ModTime); err != nil {
			p.report.AddFailure(path, err)
			return
		}
		p.report.notePulled(n)

	default:
		p.report.noteUnchanged()
	}
}

// localOnly handles a local entry with no remote counterpart this pass:
// push it as new, or confirm a remote-initiated delete.
func (r *Reconciler) localOnly(ctx context.Context, p *pass, parentRemoteID string, entry *LocalEntry) {
	unlock := r.locks.Lock(entry.Path)
	defer unlock()

	rec, err := r.ledger.ByLocalPath(entry.Path)
	if err != nil {
		p.report.AddFailure(entry.Path, err)
		return
	}

	if rec != nil {
		// the remote counterpart was deleted since the last sync
		slog.Debug("removed at remote, deleting locally", "path", entry.Path)
		r.ignorer.IgnoreOnce(entry.Path)
		if err := os.RemoveAll(entry.Path); err != nil {
			p.report.AddFailure(entry.Path, err)
			return
		}
		if err := r.ledger.DeleteTree(entry.Path); err != nil {
			p.report.AddFailure(entry.Path, err)
			return
		}
		p.report.noteDeletedLocal()
		return
	}

	if entry.IsDir {
		slog.Debug("creating remote folder", "path", entry.Path)
		created, err := r.drive.CreateFolder(ctx, parentRemoteID, entry.Name)
		if err != nil {
			r.reportDriveErr(p, entry.Path, err)
			return
		}
		if err := r.ledger.Upsert(entry.Path, created.ID, entry.ModTime, r.now().Unix()); err != nil {
			p.report.AddFailure(entry.Path, err)
			return
		}
		p.report.noteCreatedRemote(0)
		for _, child := range entry.Children {
			if ctx.Err() != nil {
				return
			}
			r.localOnly(ctx, p, created.ID, child)
		}
		return
	}

	slog.Debug("creating remote file", "path", entry.Path)
	n, created, err := r.createRemoteFile(ctx, parentRemoteID, entry)
	if err != nil {
		r.reportDriveErr(p, entry.Path, err)
		return
	}
	if err := r.ledger.Upsert(entry.Path, created.ID, entry.ModTime, r.now().Unix()); err != nil {
		p.report.AddFailure(entry.Path, err)
		return
	}
	p.report.noteCreatedRemote(n)
}

// deleteRemote propagates a local deletion: remove the remote object, then
// drop the ledger records for the whole subtree.
func (r *Reconciler) deleteRemote(ctx context.Context, p *pass, localPath, remoteID string) {
	unlock := r.locks.Lock(localPath)
	defer unlock()

	if err := r.drive.Delete(ctx, remoteID); err != nil && !errors.Is(err, drive.ErrNotFound) {
		p.report.AddFailure(localPath, err)
		return
	}
	if err := r.ledger.DeleteTree(localPath); err != nil {
		p.report.AddFailure(localPath, err)
		return
	}
	p.report.noteDeletedRemote()
}

func (r *Reconciler) createLocalFolder(path, remoteID string, remoteMod int64) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return r.ledger.Upsert(path, remoteID, r.now().Unix(), remoteMod)
}

func (r *Reconciler) pullFile(ctx context.Context, path, fileID string) (int64, error) {
	content, err := r.drive.FetchContent(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer content.Close()
	return r.writeLocalFile(path, content)
}

func (r *Reconciler) pushFile(ctx context.Context, path, fileID string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := r.drive.PushContent(ctx, fileID, f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (r *Reconciler) createRemoteFile(ctx context.Context, parentID string, entry *LocalEntry) (int64, *drive.Entry, error) {
	f, err := os.Open(entry.Path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	created, err := r.drive.CreateFile(ctx, parentID, entry.Name, f)
	if err != nil {
		return 0, nil, err
	}
	return info.Size(), created, nil
}

// writeLocalFile writes content atomically: temp file in the same directory,
// fsync, then rename. The target is registered with the watcher's
// ignore-once list right before the rename lands.
func (r *Reconciler) writeLocalFile(path string, content io.Reader) (int64, error) {
	if err := utils.EnsureParent(path); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), localTmpPattern)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	r.ignorer.IgnoreOnce(path)
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename to %s: %w", path, err)
	}
	return n, nil
}

// reportDriveErr sorts adapter failures: vanished objects are re-derived on
// the next pass, everything else is a per-path failure with the ledger
// record left untouched so the same decision retries.
func (r *Reconciler) reportDriveErr(p *pass, path string, err error) {
	if errors.Is(err, drive.ErrNotFound) {
		slog.Debug("remote entry vanished mid-pass", "path", path)
		p.report.noteSkipped()
		return
	}
	p.report.AddFailure(path, err)
}

// maybeAsync runs fn on a worker slot when one is free, inline otherwise.
// Bounds the fan-out of sibling folder recursion without ever blocking on a
// slot (inline recursion cannot deadlock).
func (r *Reconciler) maybeAsync(p *pass, fn func()) {
	select {
	case r.sem <- struct{}{}:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-r.sem }()
			fn()
		}()
	default:
		fn()
	}
}
