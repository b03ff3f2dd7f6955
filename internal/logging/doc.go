// Package logging assembles the structured slog loggers used across the
// receiver daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, the run
// handler that stamps the session id and feeds journal taps, and attribute
// helpers that keep keys such as component, source_kind and event_type
// consistent between packages. A no-op logger is provided for tests and
// wiring code that cannot fail.
package logging
