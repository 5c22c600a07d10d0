package shortcuts

import (
	"fmt"
	"sync"
)

// Action identifies what a key press does.
type Action string

const (
	ActionCapture Action = "capture"
	ActionRetake  Action = "retake"
	ActionFinish  Action = "finish"
)

// Binder registers key handlers. Bind must replace any handler already bound to key.
type Binder interface {
	Bind(key string, fn func()) error
	Unbind(key string)
}

// Keys is the configured key set.
type Keys struct {
	Capture []string
	Retake  string
	Finish  string
}

// Bindings flattens keys into binding name → action, in bind order.
func (k Keys) Bindings() ([]string, map[string]Action, error) {
	order := make([]string, 0, len(k.Capture)+2)
	actions := make(map[string]Action, len(k.Capture)+2)
	add := func(raw string, action Action) error {
		name := Normalize(raw)
		if name == "" {
			return fmt.Errorf("empty key for %s", action)
		}
		if existing, ok := actions[name]; ok {
			if existing == action {
				return nil
			}
			return fmt.Errorf("key %q bound to both %s and %s", name, existing, action)
		}
		actions[name] = action
		order = append(order, name)
		return nil
	}
	for _, key := range k.Capture {
		if err := add(key, ActionCapture); err != nil {
			return nil, nil, err
		}
	}
	if err := add(k.Retake, ActionRetake); err != nil {
		return nil, nil, err
	}
	if err := add(k.Finish, ActionFinish); err != nil {
		return nil, nil, err
	}
	return order, actions, nil
}

// Dispatcher mounts a key set onto a Binder.
type Dispatcher struct {
	mu     sync.Mutex
	binder Binder
	bound  []string
}

// NewDispatcher constructs a dispatcher over binder.
func NewDispatcher(binder Binder) *Dispatcher {
	return &Dispatcher{binder: binder}
}

// Mount binds every key to the handler for its action. A mounted dispatcher is
// unmounted first. On failure nothing stays bound.
func (d *Dispatcher) Mount(keys Keys, handlers map[Action]func()) error {
	order, actions, err := keys.Bindings()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountLocked()

	for _, name := range order {
		fn := handlers[actions[name]]
		if fn == nil {
			d.unmountLocked()
			return fmt.Errorf("no handler for %s", actions[name])
		}
		if err := d.binder.Bind(name, fn); err != nil {
			d.unmountLocked()
			return fmt.Errorf("bind %q: %w", name, err)
		}
		d.bound = append(d.bound, name)
	}
	return nil
}

// Unmount releases exactly the keys bound by the last Mount.
func (d *Dispatcher) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmountLocked()
}

func (d *Dispatcher) unmountLocked() {
	for _, name := range d.bound {
		d.binder.Unbind(name)
	}
	d.bound = nil
}

// Bound lists the currently bound binding names.
func (d *Dispatcher) Bound() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bound...)
}
