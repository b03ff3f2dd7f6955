// Package player runs the receiver's caller-side event loop.
//
// The loop owns a runner (the source worker), the restart watchdog and the
// request queue that the IPC layer posts into. After every handled
// descriptor it polls the runner's core state: a source that is not started
// is reported to the watchdog as a fault, a running source services it, and
// a monotonic-counter change restarts playback. Collaborators such as the
// video player and the RX-good indicator sit behind the Playback and
// Indicator interfaces.
package player
