// Package capture implements the capture lifecycle state machine.
//
// The Machine moves Idle → Preparing → Ready ⇄ Triggering → Finishing →
// Finished, issuing prepare/trigger/finish commands to a Device and resolving
// them from the device's completion callbacks. Only one prepare or trigger is
// outstanding at a time: triggers arriving outside Ready are dropped, and a
// finish requested mid-command is deferred until that command resolves.
//
// Every command is bounded by an optional timeout. When it fires the machine
// returns to Ready with an ErrTimeout and ignores the late callback.
package capture
