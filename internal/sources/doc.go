// Package sources holds the fixed list of receiver backends and builds the
// source registry and tuning configs from application configuration.
//
// Adding a backend means adding its provider to Build; callers only see
// the registry.
package sources
