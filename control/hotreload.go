// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reload hook lists for config changes.
// TriggerSync exists for deterministic notification in tests and tools.

package control

import "sync"

// ReloadHooks is an ordered list of reload listeners.
type ReloadHooks struct {
	mu    sync.Mutex
	hooks []func()
}

// Register adds a new component reload listener.
func (r *ReloadHooks) Register(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (r *ReloadHooks) snapshot() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]func(){}, r.hooks...)
}

// Trigger dispatches all hooks asynchronously.
func (r *ReloadHooks) Trigger() {
	for _, fn := range r.snapshot() {
		go fn()
	}
}

// TriggerSync invokes all hooks on the caller's goroutine, in registration order.
func (r *ReloadHooks) TriggerSync() {
	for _, fn := range r.snapshot() {
		fn()
	}
}

// Len returns the number of registered hooks.
func (r *ReloadHooks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
