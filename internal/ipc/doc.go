// Package ipc exposes a running capture session over JSON-RPC on a Unix
// socket and ships the matching client used by the CLI.
//
// The server wraps a daemon.Daemon; every method maps onto one controller
// command. Request and response types reuse the api package DTOs so the HTTP
// and socket surfaces stay in step.
package ipc
