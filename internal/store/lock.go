package store

import "sync"

// RWGuard is the move-only scoped handle spec.md §9 describes: "a move-only
// handle that holds the shared pointer plus a guard; the guard is dropped
// when the handle goes out of scope, releasing the lock." Go has no
// destructors, so the handle is released explicitly via Release (callers use
// defer), but ReadHandle and WriteHandle stay distinct types so a caller
// can't accidentally write through a handle acquired for reading.
type RWGuard struct {
	mu     *sync.RWMutex
	write  bool
	active bool
}

// NewPartitionLock returns a fresh reader/writer lock for one partition's
// in-memory cache (symbols, symbol-names, usr, files, dependency, source-info
// each get their own, per spec.md §4.3).
func NewPartitionLock() *sync.RWMutex {
	return &sync.RWMutex{}
}

// AcquireRead returns a handle holding mu's read lock.
func AcquireRead(mu *sync.RWMutex) *RWGuard {
	mu.RLock()
	return &RWGuard{mu: mu, write: false, active: true}
}

// AcquireWrite returns a handle holding mu's write lock.
func AcquireWrite(mu *sync.RWMutex) *RWGuard {
	mu.Lock()
	return &RWGuard{mu: mu, write: true, active: true}
}

// Release drops the lock. Safe to call multiple times.
func (g *RWGuard) Release() {
	if !g.active {
		return
	}
	g.active = false
	if g.write {
		g.mu.Unlock()
	} else {
		g.mu.RUnlock()
	}
}

// IsWrite reports whether this handle holds the exclusive lock.
func (g *RWGuard) IsWrite() bool { return g.write }
