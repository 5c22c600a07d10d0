package daemon

import "sync"

// unloadHooks is the process-level abrupt-exit signal handed to the controller.
type unloadHooks struct {
	mu    sync.Mutex
	next  uint64
	hooks map[uint64]func()
	once  sync.Once
}

func newUnloadHooks() *unloadHooks {
	return &unloadHooks{hooks: make(map[uint64]func())}
}

// OnUnload registers fn and returns a function that removes it.
func (u *unloadHooks) OnUnload(fn func()) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.next++
	id := u.next
	u.hooks[id] = fn
	return func() {
		u.mu.Lock()
		delete(u.hooks, id)
		u.mu.Unlock()
	}
}

// fire runs every registered hook once, in registration order. Concurrent
// callers block until the hooks have returned.
func (u *unloadHooks) fire() {
	u.once.Do(func() {
		u.mu.Lock()
		fns := make([]func(), 0, len(u.hooks))
		for id := uint64(1); id <= u.next; id++ {
			if fn, ok := u.hooks[id]; ok {
				fns = append(fns, fn)
			}
		}
		u.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

func (u *unloadHooks) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.hooks)
}
