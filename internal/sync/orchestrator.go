package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/mirrorbox/mirrorbox/internal/config"
	"github.com/mirrorbox/mirrorbox/internal/drive"
	"github.com/mirrorbox/mirrorbox/internal/utils"
	"golang.org/x/sync/errgroup"
)

var ErrSyncAlreadyRunning = errors.New("sync already running")

// Orchestrator drives reconciliation across all configured directory pairs:
// one full recursive pass per pair on start and on a resync timer, and a
// folder-scoped single-name reconciliation per filesystem change event in
// between. It owns the ledger, the instance lock, and one watch handle per
// local root.
type Orchestrator struct {
	cfg    *config.Config
	drive  drive.Client
	ledger *Ledger
	rec    *Reconciler
	lock   *flock.Flock

	watchMu sync.Mutex
	watches map[string]*watchHandle

	muSync sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type watchHandle struct {
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewOrchestrator(cfg *config.Config, client drive.Client) *Orchestrator {
	ledger := NewLedger(cfg.LedgerPath)
	rec := NewReconciler(client, ledger, cfg.Workers)

	o := &Orchestrator{
		cfg:     cfg,
		drive:   client,
		ledger:  ledger,
		rec:     rec,
		watches: make(map[string]*watchHandle),
	}
	rec.SetIgnorer(o)
	return o
}

// Start acquires the instance lock, opens the ledger, runs the initial full
// pass and begins watching. It does not block; Stop shuts everything down.
func (o *Orchestrator) Start(ctx context.Context) error {
	slog.Info("sync start", "pairs", len(o.cfg.Pairs))

	if err := o.acquireLock(); err != nil {
		return err
	}
	if err := o.ledger.Open(); err != nil {
		o.releaseLock()
		return fmt.Errorf("open ledger: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	slog.Info("running initial sync")
	report, err := o.RunFullSync(ctx)
	if err != nil {
		o.ledger.Close()
		o.releaseLock()
		return err
	}
	report.Log()

	if err := o.StartWatching(ctx); err != nil {
		o.ledger.Close()
		o.releaseLock()
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.resyncLoop(ctx)
	}()

	return nil
}

// Stop halts all watches and the resync loop. In-flight reconciliations are
// cancelled through their context; ledger writes only ever happen after the
// matching side effect, so interrupting a pass is merely "redo" work.
func (o *Orchestrator) Stop() error {
	slog.Info("sync stop")
	if o.cancel != nil {
		o.cancel()
	}
	o.StopWatching()
	o.wg.Wait()

	err := o.ledger.Close()
	o.releaseLock()
	return err
}

// RunOnce performs a single full pass without watching. Used by the one-shot
// sync command.
func (o *Orchestrator) RunOnce(ctx context.Context) (*PassReport, error) {
	if err := o.acquireLock(); err != nil {
		return nil, err
	}
	defer o.releaseLock()

	if err := o.ledger.Open(); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer o.ledger.Close()

	return o.RunFullSync(ctx)
}

// RunFullSync reconciles every configured pair. Pairs are independent and
// run in parallel. Only ledger storage failures and cancellation are fatal;
// everything else lands in the report as per-path failures.
func (o *Orchestrator) RunFullSync(ctx context.Context) (*PassReport, error) {
	if !o.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer o.muSync.Unlock()

	report := NewPassReport()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, o.cfg.Workers))
	for _, pair := range o.cfg.Pairs {
		eg.Go(func() error {
			o.syncPair(egCtx, pair, report)
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// syncPair binds one (local root, remote root) pair and reconciles it.
func (o *Orchestrator) syncPair(ctx context.Context, pair config.DirPair, report *PassReport) {
	root, err := o.drive.ResolveFolder(ctx, drive.RootID, pair.RemoteSegments())
	if err != nil {
		report.AddFailure(pair.LocalDir, fmt.Errorf("resolve remote %s: %w", pair.RemotePath, err))
		return
	}

	info, err := os.Stat(pair.LocalDir)
	if err != nil {
		report.AddFailure(pair.LocalDir, err)
		return
	}

	// root-level binding record for the pair
	if err := o.ledger.Upsert(pair.LocalDir, root.ID, info.ModTime().Unix(), root.ModTime); err != nil {
		report.AddFailure(pair.LocalDir, err)
		return
	}

	local, err := ReadLocalTree(pair.LocalDir)
	if err != nil {
		report.AddFailure(pair.LocalDir, err)
		return
	}
	remote, err := o.drive.ListChildren(ctx, root.ID)
	if err != nil {
		report.AddFailure(pair.LocalDir, err)
		return
	}

	o.rec.Reconcile(ctx, pair.LocalDir, root.ID, local, remote, report)
}

// HandleLocalChangeEvent reconciles just the folder entry affected by one
// filesystem event: it walks up to the nearest ledger-bound ancestor folder
// and runs a single-name reconciliation there, never a full tree walk.
func (o *Orchestrator) HandleLocalChangeEvent(ctx context.Context, path string) error {
	if isEngineTmpPath(path) {
		return nil
	}

	pair := o.pairFor(path)
	if pair == nil {
		return nil
	}
	if path == pair.LocalDir {
		return nil
	}

	name := filepath.Base(path)
	dir := filepath.Dir(path)
	for {
		rec, err := o.ledger.ByLocalPath(dir)
		if err != nil {
			return err
		}
		if rec != nil {
			report := NewPassReport()
			if err := o.rec.ReconcileName(ctx, dir, rec.RemoteID, name, report); err != nil {
				return err
			}
			report.Log()
			return nil
		}
		if dir == pair.LocalDir {
			// pair not bound yet; the initial or next full pass covers it
			slog.Debug("change event before pair binding", "path", path)
			return nil
		}
		name = filepath.Base(dir)
		dir = filepath.Dir(dir)
	}
}

// StartWatching creates one recursive watch per configured local root.
func (o *Orchestrator) StartWatching(ctx context.Context) error {
	o.watchMu.Lock()
	defer o.watchMu.Unlock()

	for _, pair := range o.cfg.Pairs {
		if _, ok := o.watches[pair.LocalDir]; ok {
			continue
		}

		watcher := NewWatcher(pair.LocalDir)
		watcher.FilterPaths(isEngineTmpPath)

		wctx, cancel := context.WithCancel(ctx)
		if err := watcher.Start(wctx); err != nil {
			cancel()
			return fmt.Errorf("watch %s: %w", pair.LocalDir, err)
		}

		handle := &watchHandle{
			watcher: watcher,
			cancel:  cancel,
			done:    make(chan struct{}),
		}
		o.watches[pair.LocalDir] = handle

		go func() {
			defer close(handle.done)
			for event := range watcher.Events() {
				if err := o.HandleLocalChangeEvent(wctx, event.Path()); err != nil {
					slog.Error("change event failed", "path", event.Path(), "error", err)
				}
			}
		}()
	}

	return nil
}

// StopWatching cancels every watch handle and awaits their event loops.
func (o *Orchestrator) StopWatching() {
	o.watchMu.Lock()
	defer o.watchMu.Unlock()

	for root, handle := range o.watches {
		handle.cancel()
		handle.watcher.Stop()
		<-handle.done
		delete(o.watches, root)
	}
}

// IgnoreOnce routes an engine-initiated write to the watcher of its root, so
// the resulting filesystem event is not mistaken for a user change.
func (o *Orchestrator) IgnoreOnce(path string) {
	o.watchMu.Lock()
	defer o.watchMu.Unlock()

	for root, handle := range o.watches {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			handle.watcher.IgnoreOnce(path)
			return
		}
	}
}

func (o *Orchestrator) resyncLoop(ctx context.Context) {
	// a timer and not a ticker, to avoid queued ticks when a pass takes
	// longer than the interval
	interval := o.cfg.ResyncEvery()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			report, err := o.RunFullSync(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSyncAlreadyRunning) {
				slog.Error("resync failed", "error", err)
				return
			}
			if report != nil {
				report.Log()
			}
			timer.Reset(interval)
		}
	}
}

func (o *Orchestrator) pairFor(path string) *config.DirPair {
	for i := range o.cfg.Pairs {
		pair := &o.cfg.Pairs[i]
		if path == pair.LocalDir || strings.HasPrefix(path, pair.LocalDir+string(filepath.Separator)) {
			return pair
		}
	}
	return nil
}

func (o *Orchestrator) acquireLock() error {
	lockPath := o.cfg.LedgerPath + ".lock"
	if err := utils.EnsureParent(lockPath); err != nil {
		return err
	}

	o.lock = flock.New(lockPath)
	ok, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance is already syncing with ledger %s", o.cfg.LedgerPath)
	}
	return nil
}

func (o *Orchestrator) releaseLock() {
	if o.lock != nil {
		o.lock.Unlock()
		o.lock = nil
	}
}

func isEngineTmpPath(path string) bool {
	return strings.Contains(filepath.Base(path), ".mirrorbox.tmp.")
}
