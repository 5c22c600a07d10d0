// Package daemon runs one capture session as a long-lived process.
//
// It takes an exclusive lock on the session directory, opens the device
// service and the crop store, constructs the capture controller with a shared
// keymap, and serves the optional HTTP presentation API. Stop fires the
// registered unload hooks so the controller's abrupt-exit teardown runs before
// devices and listeners are released.
package daemon
