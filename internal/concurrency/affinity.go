// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU pinning for the DMA service thread.

package concurrency

import (
	"fmt"
	"runtime"
)

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpu. The returned function restores the previous
// affinity and unlocks the thread. cpu < 0 only locks the thread.
func PinCurrentThread(cpu int) (unpin func(), err error) {
	if cpu >= NumCPUs() {
		return nil, fmt.Errorf("cpu %d out of range [0,%d)", cpu, NumCPUs())
	}
	runtime.LockOSThread()
	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}
	restore, err := platformPinCurrentThread(cpu)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, nil
}
