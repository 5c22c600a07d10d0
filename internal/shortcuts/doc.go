// Package shortcuts binds physical keys to capture actions.
//
// A Dispatcher records exactly which keys it bound so Unmount releases the same
// set, and repeated mount/unmount cycles never accumulate bindings. Keymap is
// the in-process Binder used by the terminal console and the key IPC method.
package shortcuts
