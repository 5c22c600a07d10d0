// Command scanstation runs and controls book-scanning capture sessions.
//
// `scanstation capture <session>` owns the cameras for one session in the
// foreground: it reads shortcut keys from the terminal, serves the HTTP
// presentation API, and listens on a Unix socket. The remaining commands
// (status, trigger, retake, finish, key, crop, overlay, device) talk to that
// process over the socket. session and config work offline.
package main
