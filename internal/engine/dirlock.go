package engine

import "sync"

// dirLocks serializes directory creation under the same destination parent.
type dirLocks struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// lock acquires the lock for dir and returns its release function.
func (d *dirLocks) lock(dir string) func() {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*sync.Mutex)
	}
	m, ok := d.locks[dir]
	if !ok {
		m = &sync.Mutex{}
		d.locks[dir] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}
