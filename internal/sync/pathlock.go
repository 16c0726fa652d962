package sync

import "sync"

// pathLocks serializes decide-and-commit steps per local path. The full-sync
// walk and the watcher event path share one instance, so two reconciliations
// can never race on the same ledger record. Different paths proceed in
// parallel.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{
		held: make(map[string]*pathLock),
	}
}

// Lock acquires the lock for a path and returns the matching unlock func.
func (p *pathLocks) Lock(path string) func() {
	p.mu.Lock()
	lock, ok := p.held[path]
	if !ok {
		lock = &pathLock{}
		p.held[path] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.held, path)
		}
		p.mu.Unlock()
	}
}
