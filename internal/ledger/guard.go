package ledger

import "sync"

// Guard is a keyed mutex. Callers locking different keys never block each
// other; entries are dropped once no caller holds or waits on them.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key and returns its release function.
func (g *Guard) Lock(key string) (unlock func()) {
	g.mu.Lock()
	kl, ok := g.locks[key]
	if !ok {
		kl = &keyLock{}
		g.locks[key] = kl
	}
	kl.refs++
	g.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		g.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
