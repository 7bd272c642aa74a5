// File: api/descriptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DMA descriptor record and the descriptor pool contract.

package api

import "strings"

// DscrIndex names a descriptor inside a DescriptorPool.
type DscrIndex uint16

// NoDscr terminates a descriptor chain.
const NoDscr DscrIndex = 0xFFFF

// Valid reports whether the index is not the terminal sentinel.
func (i DscrIndex) Valid() bool { return i != NoDscr }

// DscrFlag carries the occupancy and status bits of a descriptor.
type DscrFlag uint16

const (
	// DscrOccupied marks a buffer that holds data not yet drained.
	DscrOccupied DscrFlag = 1 << iota
	// DscrEOP marks the last buffer of a packet.
	DscrEOP
	// DscrMarker is the software marker bit carried along with data.
	DscrMarker
	// DscrError marks a buffer the hardware flagged as bad.
	DscrError
)

var dscrFlagNames = [...]string{"occupied", "eop", "marker", "error"}

func (f DscrFlag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for i, name := range dscrFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// SyncWord names the sockets bound to a descriptor and which of them
// get an event or interrupt when the descriptor is filled or drained.
type SyncWord struct {
	ProdSocket SocketID
	ConsSocket SocketID
	ProdEvent  bool
	ConsEvent  bool
	ProdIntr   bool
	ConsIntr   bool
}

// Descriptor describes one DMA buffer and its place in a chain.
//
// ReadNext is followed by a consumer socket, WriteNext by a producer socket.
// Both always hold either a valid in-pool index or NoDscr.
type Descriptor struct {
	Buffer    BufferRef
	Size      uint32 // usable bytes, 16-byte granular
	Count     uint32 // valid bytes
	Flags     DscrFlag
	Sync      SyncWord
	ReadNext  DscrIndex
	WriteNext DscrIndex
}

// Occupied reports whether the buffer currently holds data.
func (d Descriptor) Occupied() bool { return d.Flags&DscrOccupied != 0 }

// DescriptorPool is a fixed-size pool of descriptors allocated by index.
// Implementations are not required to be safe for concurrent use;
// callers serialize access.
type DescriptorPool interface {
	// Alloc reserves a descriptor, returning ErrResourceExhausted when empty.
	Alloc() (DscrIndex, error)
	// Free returns a descriptor to the pool.
	Free(DscrIndex) error
	// Get reads a descriptor.
	Get(DscrIndex) Descriptor
	// Set writes a descriptor.
	Set(DscrIndex, Descriptor)
	// Stats exposes allocation accounting.
	Stats() DescriptorPoolStats
}

// DescriptorPoolStats aggregates descriptor allocation stats.
type DescriptorPoolStats struct {
	Capacity   int
	InUse      int
	TotalAlloc int64
	TotalFree  int64
}
