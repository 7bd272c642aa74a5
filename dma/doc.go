// File: dma/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dma implements multi-socket DMA channels over a shared descriptor
// pool: multicast (one producer, every buffer to all consumers), one-to-many
// (round robin distribution) and many-to-one (interleaved collection).
//
// An Engine holds the shared resources and routes socket interrupts to the
// owning Channel. On each produce interrupt the channel hands the filled
// buffers to the consumers that share them and raises their credit counts;
// on each consume interrupt it lowers the draining consumer's count and
// returns a buffer to its producer once no enabled consumer is behind.
// Notifications are queued while the channel lock is held and delivered
// to the registered Callback after it is released.
//
// The descriptor pool itself is not locked: the Engine serializes chain
// allocation, and each channel guards the descriptors of its own chains.
package dma
