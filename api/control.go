// File: api/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control is the runtime surface of an engine: hot-reloadable config keys
// (for example "dma.lock_timeout"), int64 counters and debug probes.
// SetConfig runs the OnReload hooks after the new values are visible.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	AddMetric(key string, delta int64)
	RegisterDebugProbe(name string, fn func() any)
	UnregisterDebugProbe(name string)
}
