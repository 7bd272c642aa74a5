// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-dma: a mutex with bounded waits, an
// event-flag group with AND/OR waits, the interrupt Dispatcher that routes
// socket events from a lock-free inbox to their owning channel, and CPU
// pinning for the thread that runs the dispatcher loop.
//
// These stand in for the RTOS services the DMA engine was designed around
// (mutex, event flags, the DMA service thread).
package concurrency
