// Package longmynd drives the longmynd DVB-S/S2 receiver process.
//
// The child writes diagnostics to a pseudo-terminal and telemetry to a
// status FIFO as "$type,value" lines. Diagnostics feed a startup tracker
// that decides when the receiver is running and which error lines are
// fatal; telemetry feeds a parser that maintains Status and the lock
// counter.
package longmynd
