// File: pool/descriptor_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity DMA descriptor pool. Indices are handed out from a free
// stack; there is no ordering guarantee across indices.
// This implementation is NOT thread-safe: callers serialize access.

package pool

import (
	"fmt"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-dma/api"
)

// MaxDescriptors is the largest pool that keeps NoDscr out of range.
const MaxDescriptors = int(api.NoDscr)

// DescriptorPool implements api.DescriptorPool over a flat array.
type DescriptorPool struct {
	dscrs []api.Descriptor
	used  []bool
	free  []api.DscrIndex

	_          cpu.CacheLinePad
	totalAlloc int64
	totalFree  int64
}

// NewDescriptorPool creates a pool holding n descriptors.
func NewDescriptorPool(n int) *DescriptorPool {
	if n <= 0 || n > MaxDescriptors {
		panic(fmt.Sprintf("descriptor pool size %d out of range", n))
	}
	p := &DescriptorPool{
		dscrs: make([]api.Descriptor, n),
		used:  make([]bool, n),
		free:  make([]api.DscrIndex, 0, n),
	}
	// Push in reverse so the first Alloc returns index 0.
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, api.DscrIndex(i))
	}
	return p
}

// Alloc reserves a descriptor and resets it to an unlinked state.
func (p *DescriptorPool) Alloc() (api.DscrIndex, error) {
	if len(p.free) == 0 {
		return api.NoDscr, api.ErrResourceExhausted.WithContext("pool", "descriptors")
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[idx] = true
	p.dscrs[idx] = api.Descriptor{ReadNext: api.NoDscr, WriteNext: api.NoDscr}
	p.totalAlloc++
	return idx, nil
}

// Free returns a descriptor to the pool.
func (p *DescriptorPool) Free(idx api.DscrIndex) error {
	if int(idx) >= len(p.dscrs) {
		return api.Errorf(api.ErrCodeBadArgument, "descriptor %d out of range", idx)
	}
	if !p.used[idx] {
		return api.Errorf(api.ErrCodeBadArgument, "descriptor %d is not allocated", idx)
	}
	p.used[idx] = false
	p.dscrs[idx] = api.Descriptor{}
	p.free = append(p.free, idx)
	p.totalFree++
	return nil
}

// Get reads a descriptor. Out of range indices read as the zero descriptor.
func (p *DescriptorPool) Get(idx api.DscrIndex) api.Descriptor {
	if int(idx) >= len(p.dscrs) {
		return api.Descriptor{ReadNext: api.NoDscr, WriteNext: api.NoDscr}
	}
	return p.dscrs[idx]
}

// Set writes a descriptor. Writes outside the pool are dropped.
func (p *DescriptorPool) Set(idx api.DscrIndex, d api.Descriptor) {
	if int(idx) >= len(p.dscrs) {
		return
	}
	p.dscrs[idx] = d
}

// Allocated reports whether idx is currently handed out.
func (p *DescriptorPool) Allocated(idx api.DscrIndex) bool {
	return int(idx) < len(p.used) && p.used[idx]
}

// Stats exposes allocation accounting.
func (p *DescriptorPool) Stats() api.DescriptorPoolStats {
	return api.DescriptorPoolStats{
		Capacity:   len(p.dscrs),
		InUse:      len(p.dscrs) - len(p.free),
		TotalAlloc: p.totalAlloc,
		TotalFree:  p.totalFree,
	}
}

var _ api.DescriptorPool = (*DescriptorPool)(nil)
