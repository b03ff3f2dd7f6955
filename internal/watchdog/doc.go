// Package watchdog schedules source restarts with exponential backoff and
// keeps a liveness heartbeat file for an external supervisor.
//
// Timer expiry happens on a runtime timer goroutine but only posts a wake
// byte; the restart action runs when the owner handles the watchdog's
// descriptor on its own loop.
package watchdog
