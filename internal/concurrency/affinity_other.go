// File: internal/concurrency/affinity_other.go
//go:build !linux && !windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// platformPinCurrentThread only keeps the thread locked on this platform.
func platformPinCurrentThread(int) (func(), error) {
	return func() {}, nil
}
