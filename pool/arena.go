// File: pool/arena.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Index-addressed DMA buffer arena. Blocks are owned through Block handles;
// descriptors only ever store api.BufferRef views into them.

package pool

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// Arena implements api.BufferHeap with a bounded byte budget.
// Released backing slices are recycled per size class.
type Arena struct {
	mu       sync.Mutex
	blocks   [][]byte // index 0 is never used
	freeIDs  []api.BlockID
	recycled map[int]chan []byte
	limit    int64

	stats api.BufferHeapStats
}

// NewArena creates an arena that may hold at most limit bytes in use.
// A non-positive limit disables the budget.
func NewArena(limit int64) *Arena {
	return &Arena{
		blocks:   make([][]byte, 1),
		recycled: make(map[int]chan []byte),
		limit:    limit,
	}
}

// roundSize rounds n up to the hardware buffer granularity.
func roundSize(n int) int {
	return (n + api.BufferGranularity - 1) &^ (api.BufferGranularity - 1)
}

func (a *Arena) getChannel(size int) chan []byte {
	ch, ok := a.recycled[size]
	if !ok {
		ch = make(chan []byte, 64)
		a.recycled[size] = ch
	}
	return ch
}

// Alloc reserves a zeroed block of at least size bytes.
func (a *Arena) Alloc(size int) (api.BlockID, error) {
	if size <= 0 {
		return api.NoBlock, api.Errorf(api.ErrCodeBadArgument, "block size %d", size)
	}
	size = roundSize(size)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.stats.BytesInUse+int64(size) > a.limit {
		return api.NoBlock, api.ErrResourceExhausted.WithContext("pool", "buffer heap")
	}

	var buf []byte
	select {
	case buf = <-a.getChannel(size):
		clear(buf)
	default:
		buf = make([]byte, size)
	}

	var id api.BlockID
	if n := len(a.freeIDs); n > 0 {
		id = a.freeIDs[n-1]
		a.freeIDs = a.freeIDs[:n-1]
		a.blocks[id] = buf
	} else {
		id = api.BlockID(len(a.blocks))
		a.blocks = append(a.blocks, buf)
	}
	a.stats.TotalAlloc++
	a.stats.InUse++
	a.stats.BytesInUse += int64(size)
	return id, nil
}

// Free releases a block.
func (a *Arena) Free(id api.BlockID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == api.NoBlock || int(id) >= len(a.blocks) || a.blocks[id] == nil {
		return api.Errorf(api.ErrCodeBadArgument, "block %d is not allocated", id)
	}
	buf := a.blocks[id]
	a.blocks[id] = nil
	a.freeIDs = append(a.freeIDs, id)
	select {
	case a.getChannel(len(buf)) <- buf:
	default:
	}
	a.stats.TotalFree++
	a.stats.InUse--
	a.stats.BytesInUse -= int64(len(buf))
	return nil
}

func (a *Arena) lookup(ref api.BufferRef, n int) []byte {
	if ref.Block == api.NoBlock || int(ref.Block) >= len(a.blocks) || n < 0 {
		return nil
	}
	buf := a.blocks[ref.Block]
	if buf == nil || int64(ref.Offset)+int64(n) > int64(len(buf)) {
		return nil
	}
	return buf[ref.Offset : int(ref.Offset)+n]
}

// Bytes returns n bytes at ref, or nil when out of range.
func (a *Arena) Bytes(ref api.BufferRef, n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookup(ref, n)
}

// Contains reports whether [ref, ref+n) lies inside a live block.
func (a *Arena) Contains(ref api.BufferRef, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookup(ref, n) != nil
}

// Stats exposes resource/accounting metrics for observability.
func (a *Arena) Stats() api.BufferHeapStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

var _ api.BufferHeap = (*Arena)(nil)

// Block is the owning handle of an arena block. Only holders of a Block
// can release memory; views derived from it cannot.
type Block struct {
	heap api.BufferHeap
	id   api.BlockID
}

// AllocBlock reserves an owned block from heap.
func AllocBlock(heap api.BufferHeap, size int) (Block, error) {
	id, err := heap.Alloc(size)
	if err != nil {
		return Block{}, err
	}
	return Block{heap: heap, id: id}, nil
}

// ID returns the block index.
func (b Block) ID() api.BlockID { return b.id }

// View returns a non-owning reference offset bytes into the block.
func (b Block) View(offset uint32) api.BufferRef {
	return api.BufferRef{Block: b.id, Offset: offset}
}

// Release frees the block.
func (b Block) Release() error {
	if b.heap == nil {
		return nil
	}
	return b.heap.Free(b.id)
}
