// File: internal/concurrency/affinity_windows.go
//go:build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
)

// platformPinCurrentThread sets a single-CPU thread affinity mask. Masks
// wider than one processor group are not handled.
func platformPinCurrentThread(cpu int) (func(), error) {
	if cpu >= 64 {
		return nil, fmt.Errorf("cpu %d outside the first processor group", cpu)
	}
	handle := uintptr(windows.CurrentThread())
	old, _, err := procSetThreadAffinityMask.Call(handle, uintptr(1)<<uint(cpu))
	if old == 0 {
		return nil, fmt.Errorf("SetThreadAffinityMask: %v", err)
	}
	return func() { _, _, _ = procSetThreadAffinityMask.Call(handle, old) }, nil
}
