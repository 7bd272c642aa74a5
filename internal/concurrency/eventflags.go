// File: internal/concurrency/eventflags.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event-flag group: a 32-bit set of flags that waiters block on with
// AND/OR semantics and a timeout.

package concurrency

import (
	"sync"
	"time"
)

// WaitMode selects how a wait mask is matched.
type WaitMode uint8

const (
	// WaitOr is satisfied when any bit of the mask is set.
	WaitOr WaitMode = iota
	// WaitAnd is satisfied when every bit of the mask is set.
	WaitAnd
)

// EventFlags is safe for concurrent use.
type EventFlags struct {
	mu      sync.Mutex
	flags   uint32
	gen     uint64
	deleted bool
	changed chan struct{} // closed and replaced on every wake-up
}

// NewEventFlags creates a group with all flags clear.
func NewEventFlags() *EventFlags {
	return &EventFlags{changed: make(chan struct{})}
}

func (e *EventFlags) wake() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// Set ORs mask into the group and wakes waiters.
func (e *EventFlags) Set(mask uint32) {
	e.mu.Lock()
	e.flags |= mask
	e.wake()
	e.mu.Unlock()
}

// Interrupt starts a new generation. Waits begun in an earlier generation
// return ErrWaitInterrupted even if the flags they wait for are set later.
func (e *EventFlags) Interrupt() {
	e.mu.Lock()
	e.gen++
	e.wake()
	e.mu.Unlock()
}

// Generation returns the current generation for WaitSince.
func (e *EventFlags) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Delete retires the group. Every current and later wait returns
// ErrFlagsDeleted.
func (e *EventFlags) Delete() {
	e.mu.Lock()
	if !e.deleted {
		e.deleted = true
		e.wake()
	}
	e.mu.Unlock()
}

// Clear removes mask from the group.
func (e *EventFlags) Clear(mask uint32) {
	e.mu.Lock()
	e.flags &^= mask
	e.mu.Unlock()
}

// Get returns the current flags.
func (e *EventFlags) Get() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

func matched(flags, mask uint32, mode WaitMode) bool {
	if mode == WaitAnd {
		return flags&mask == mask
	}
	return flags&mask != 0
}

// Wait blocks until mask is matched or timeout expires and returns the
// flags observed at wake-up. When clear is set the matched bits are
// consumed. Timeouts return ErrWaitTimeout with the current flags.
func (e *EventFlags) Wait(mask uint32, mode WaitMode, clear bool, timeout time.Duration) (uint32, error) {
	return e.WaitSince(e.Generation(), mask, mode, clear, timeout)
}

// WaitSince is Wait for a caller that sampled the generation earlier,
// typically together with other state under its own lock.
func (e *EventFlags) WaitSince(gen uint64, mask uint32, mode WaitMode, clear bool, timeout time.Duration) (uint32, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		e.mu.Lock()
		flags := e.flags
		switch {
		case e.deleted:
			e.mu.Unlock()
			return flags, ErrFlagsDeleted
		case e.gen != gen:
			e.mu.Unlock()
			return flags, ErrWaitInterrupted
		}
		if matched(flags, mask, mode) {
			if clear {
				e.flags &^= flags & mask
			}
			e.mu.Unlock()
			return flags, nil
		}
		changed := e.changed
		e.mu.Unlock()

		if timeout == NoWait {
			return flags, ErrWaitTimeout
		}
		select {
		case <-changed:
		case <-deadline:
			return e.Get(), ErrWaitTimeout
		}
	}
}
