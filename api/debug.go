// Package api
// Author: momentics
//
// Named probes evaluated on demand for diagnostics.

package api

// Debug is a registry of named probes. Probe values show up in
// Control.Stats under the "debug." prefix.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any
	RegisterProbe(name string, fn func() any)
	UnregisterProbe(name string)
}
