// Package api
// Author: momentics
//
// DMA buffer memory. Buffers live in an index-addressed heap; descriptors
// store a BufferRef (block index plus byte offset), never a raw pointer.

package api

// BlockID names a buffer block inside a BufferHeap.
type BlockID uint32

// NoBlock is the zero reference.
const NoBlock BlockID = 0

// BufferRef is a non-owning view into a heap block.
type BufferRef struct {
	Block  BlockID
	Offset uint32
}

// IsZero reports whether the reference points nowhere.
func (r BufferRef) IsZero() bool { return r.Block == NoBlock }

// Add returns the view shifted by n bytes.
func (r BufferRef) Add(n uint32) BufferRef {
	return BufferRef{Block: r.Block, Offset: r.Offset + n}
}

// BufferHeap abstracts the DMA-addressable buffer region.
type BufferHeap interface {
	// Alloc reserves a block of at least size bytes.
	Alloc(size int) (BlockID, error)
	// Free releases a block. Freeing twice is an error.
	Free(BlockID) error
	// Bytes returns n bytes of memory starting at ref.
	// It returns nil if the range is outside any live block.
	Bytes(ref BufferRef, n int) []byte
	// Contains reports whether [ref, ref+n) lies inside one live block.
	Contains(ref BufferRef, n int) bool
	// Stats exposes resource/accounting metrics for observability.
	Stats() BufferHeapStats
}

// BufferHeapStats aggregates block allocation/reuse stats.
type BufferHeapStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	BytesInUse int64
}

// BufferInfo describes a buffer handed to or received from a channel.
type BufferInfo struct {
	Buffer BufferRef
	// Data holds the Count bytes at Buffer. Produce and consume
	// notifications carry a private copy; for override buffers it aliases
	// the caller's memory.
	Data   []byte
	Count  uint32
	Size   uint32
	Status DscrFlag
}

// Cache abstracts CPU cache maintenance over DMA buffers.
type Cache interface {
	// Clean writes back dirty lines covering the range.
	Clean(ref BufferRef, n int)
	// Invalidate drops cached lines covering the range.
	Invalidate(ref BufferRef, n int)
	// Barrier orders descriptor writes before socket events.
	Barrier()
}
