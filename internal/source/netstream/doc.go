// Package netstream receives a live stream over a WebSocket instead of a
// local tuner. Media frames are re-muxed into FLV and written to a FIFO
// that the player opens like any other source.
package netstream
