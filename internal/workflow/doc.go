// Package workflow models a scanning session on disk.
//
// A Session owns a directory holding session.yml (identifier, name, current
// step), config.yml (per-session device settings), and raw/ with one image per
// captured page named by its zero-padded sequence number. Sessions publish
// capture-triggered, capture-succeeded, and status-updated events on a Bus
// that the capture controller subscribes to.
//
// Callers hold a *Session by reference; the page list is always read back from
// raw/ so it reflects whatever the device service last wrote.
package workflow
