// Package journal records what happened to the receiver during one daemon
// run: core-state transitions, faults, watchdog restarts and tune requests.
//
// The journal lives in an in-memory SQLite database and disappears with the
// process. Callers page through it by event id, which lets the IPC layer
// offer a cheap "events since" cursor.
package journal
