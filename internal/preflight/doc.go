// Package preflight provides readiness checks for the directories, free
// space, and external capture tools a session depends on.
//
// `scanstation capture` runs RunAll before opening the cameras and logs every
// failed check; `scanstation config validate` prints the full report.
package preflight
