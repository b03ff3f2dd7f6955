// Package main hosts the dvbrx CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into IPC calls against
// the receiver daemon: start and stop, status, tuning, source restarts, the
// event journal and log tailing. Configuration scaffolding and band library
// imports run locally without a daemon.
//
// Add behaviour to the internal packages first and surface it here through a
// command or flag.
package main
