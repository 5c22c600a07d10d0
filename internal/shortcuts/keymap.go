package shortcuts

import "sync"

// Keymap is a concurrency-safe Binder that dispatches key presses.
type Keymap struct {
	mu       sync.Mutex
	handlers map[string]func()
}

// NewKeymap constructs an empty keymap.
func NewKeymap() *Keymap {
	return &Keymap{handlers: make(map[string]func())}
}

// Bind routes presses of key to fn, replacing any earlier handler.
func (k *Keymap) Bind(key string, fn func()) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[Normalize(key)] = fn
	return nil
}

// Unbind removes the handler for key. Unknown keys are ignored.
func (k *Keymap) Unbind(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.handlers, Normalize(key))
}

// Press runs the handler bound to key and reports whether one existed. The
// handler runs without the keymap lock held.
func (k *Keymap) Press(key string) bool {
	k.mu.Lock()
	fn := k.handlers[Normalize(key)]
	k.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Len reports how many keys are bound.
func (k *Keymap) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.handlers)
}
