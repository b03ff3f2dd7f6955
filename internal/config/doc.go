// Package config loads, normalizes, and validates dvbrx configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and resolves the band library, presets and
// the start-up tune into source types. Band libraries can also be imported
// from standalone YAML or TOML files.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
