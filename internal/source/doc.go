// Package source defines the data model and lifecycle contract shared by every
// receiver backend.
//
// A Band describes how requested frequencies map onto the tuner (local
// oscillator offset and side) together with backend-specific fields such as
// LNB port and polarity or stream endpoint details. A Config pairs a Band with
// the tunable parameters that Band declares; changing the Band re-syncs the
// parameter set, keeping compatible values and recomputing bounds. Validity of
// a Config is the AND of its parameters, tracked through the validity package.
//
// Status carries backend telemetry and fires a single change notification per
// update. Snapshot is its value form, used whenever telemetry crosses a
// goroutine boundary. CoreState is the four-field summary callers poll each
// loop tick.
//
// Backends implement Manager and are exposed through a Provider. The Registry
// maps a Kind tag to its Provider and is the only place callers dispatch on
// backend type.
package source
