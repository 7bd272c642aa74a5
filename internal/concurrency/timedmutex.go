// File: internal/concurrency/timedmutex.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mutual exclusion with a bounded wait.

package concurrency

import "time"

const (
	// WaitForever blocks until the wait is satisfied.
	WaitForever time.Duration = -1
	// NoWait fails immediately when the wait cannot be satisfied.
	NoWait time.Duration = 0
)

// TimedMutex is a non-reentrant mutex whose Lock takes a timeout.
type TimedMutex struct {
	ch chan struct{}
}

// NewTimedMutex creates an unlocked mutex.
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex, waiting at most timeout.
// It returns ErrLockTimeout when the wait expires.
func (m *TimedMutex) Lock(timeout time.Duration) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}
	switch {
	case timeout == NoWait:
		return ErrLockTimeout
	case timeout < 0:
		m.ch <- struct{}{}
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-t.C:
		return ErrLockTimeout
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("concurrency: unlock of unlocked TimedMutex")
	}
}
