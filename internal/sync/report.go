package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// PassReport aggregates what one reconciliation pass did: action counts,
// bytes moved, and the per-path failure reasons. Safe for concurrent use by
// parallel reconciliations.
type PassReport struct {
	mu sync.Mutex

	start time.Time

	createdLocal  int
	createdRemote int
	pulled        int
	pushed        int
	deletedLocal  int
	deletedRemote int
	unchanged     int
	skipped       int

	bytesPulled int64
	bytesPushed int64

	failures map[string]error
}

func NewPassReport() *PassReport {
	return &PassReport{
		start:    time.Now(),
		failures: make(map[string]error),
	}
}

// AddFailure records why a path could not be reconciled this pass. The path
// is retried on the next full pass or matching watch event.
func (r *PassReport) AddFailure(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[path] = err
}

// Failures returns a copy of the per-path failure reasons.
func (r *PassReport) Failures() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.failures))
	for path, err := range r.failures {
		out[path] = err
	}
	return out
}

func (r *PassReport) FailedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// Actions returns the total number of propagations performed.
func (r *PassReport) Actions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createdLocal + r.createdRemote + r.pulled + r.pushed + r.deletedLocal + r.deletedRemote
}

func (r *PassReport) noteCreatedLocal(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createdLocal++
	r.bytesPulled += bytes
}

func (r *PassReport) noteCreatedRemote(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createdRemote++
	r.bytesPushed += bytes
}

func (r *PassReport) notePulled(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulled++
	r.bytesPulled += bytes
}

func (r *PassReport) notePushed(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed++
	r.bytesPushed += bytes
}

func (r *PassReport) noteDeletedLocal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedLocal++
}

func (r *PassReport) noteDeletedRemote() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedRemote++
}

func (r *PassReport) noteUnchanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unchanged++
}

func (r *PassReport) noteSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

// Log writes the pass summary. Failures are logged per path.
func (r *PassReport) Log() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createdLocal+r.createdRemote+r.pulled+r.pushed+r.deletedLocal+r.deletedRemote+len(r.failures) == 0 {
		return
	}

	slog.Info("sync pass",
		"took", time.Since(r.start).Round(time.Millisecond),
		"pulled", r.pulled+r.createdLocal,
		"pushed", r.pushed+r.createdRemote,
		"deletedLocal", r.deletedLocal,
		"deletedRemote", r.deletedRemote,
		"unchanged", r.unchanged,
		"skipped", r.skipped,
		"failed", len(r.failures),
		"downloaded", humanize.Bytes(uint64(r.bytesPulled)),
		"uploaded", humanize.Bytes(uint64(r.bytesPushed)),
	)

	for path, err := range r.failures {
		slog.Warn("sync pass failure", "path", path, "error", err)
	}
}
