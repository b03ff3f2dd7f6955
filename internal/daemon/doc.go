// Package daemon coordinates the long-running receiver process.
//
// It wires configuration, the source registry, the player loop, the hardware
// hotplug monitor and the run journal into a single lifecycle with flock-based
// locking to prevent multiple instances. Remote control requests (band
// listing, tuning, restarts, status and journal reads) enter here and are
// forwarded to the player loop, which is the only goroutine that touches the
// active source.
package daemon
