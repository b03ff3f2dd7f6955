// Package logs tails the daemon log for the CLI.
//
// It reads with bounded memory, supports negative offsets for "last N lines"
// and a follow mode that polls for appended lines until a deadline. Lines can
// be narrowed to a single source kind, which matches both the console and the
// JSON log formats.
package logs
