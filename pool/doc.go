// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-dma: the fixed-capacity descriptor pool shared
// by every channel, the buffer arena that backs channel data buffers, and
// the lock-free ring that carries interrupt events to the dispatcher.
// See descriptor_pool.go, arena.go, ring.go for implementation details.
package pool
