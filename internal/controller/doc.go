// Package controller composes the capture session: lifecycle state machine,
// crop parameter store, crop reapplication, and keyboard shortcuts.
//
// A Controller is created per capture screen instance. Start registers the
// device event subscription, the unload hook, and the shortcuts exactly once,
// then prepares the devices. Finish, HandleUnload, and an external step change
// all run the same teardown: release subscriptions and bindings, crop the tail
// pages, and send the fire-and-forget device finish.
//
// The Presentation Layer reads Snapshot and listens through Subscribe; it never
// writes controller state directly.
package controller
