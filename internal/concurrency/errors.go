// File: internal/concurrency/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

var (
	// ErrLockTimeout is returned when TimedMutex.Lock gives up.
	ErrLockTimeout = errors.New("concurrency: lock wait timed out")
	// ErrWaitTimeout is returned when EventFlags.Wait gives up.
	ErrWaitTimeout = errors.New("concurrency: event wait timed out")
	// ErrWaitInterrupted is returned when the group moved to a new
	// generation while the caller waited.
	ErrWaitInterrupted = errors.New("concurrency: event wait interrupted")
	// ErrFlagsDeleted is returned by waits on a deleted group.
	ErrFlagsDeleted = errors.New("concurrency: event group deleted")
)
