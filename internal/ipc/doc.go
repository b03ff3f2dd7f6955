// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// The service is registered as "Receiver" and carries the remote control
// surface: Start, Stop, Status, Bands, Tune, Restart, Events and LogTail. It
// owns socket lifecycle management, request/response DTOs, and conversions
// from source bands, player reports and journal events into lightweight wire
// representations.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
