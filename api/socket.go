// File: api/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hardware DMA socket register abstraction and interrupt events.

package api

import "fmt"

// SocketID identifies a hardware socket: IP block in the high byte,
// socket number in the low byte.
type SocketID uint16

// MakeSocketID composes a socket id.
func MakeSocketID(ip, num uint8) SocketID { return SocketID(ip)<<8 | SocketID(num) }

// IP returns the IP block number.
func (s SocketID) IP() uint8 { return uint8(s >> 8) }

// Num returns the socket number inside the IP block.
func (s SocketID) Num() uint8 { return uint8(s) }

func (s SocketID) String() string { return fmt.Sprintf("%d:%d", s.IP(), s.Num()) }

// SocketStatus holds socket status flags.
type SocketStatus uint32

const (
	SocketEnabled SocketStatus = 1 << iota
	SocketSuspended
	SocketTruncate // stop after Size bytes instead of Count buffers
	SocketUnitBytes
)

// SocketIntr selects which socket interrupts are raised.
type SocketIntr uint32

const (
	IntrProduce SocketIntr = 1 << iota
	IntrConsume
	IntrError
	IntrSuspend
	IntrXferDone
)

// SuspendMode selects when a socket suspends itself.
type SuspendMode uint8

const (
	SuspendNone SuspendMode = iota
	SuspendOnEOP
	SuspendCurrentBuffer
	SuspendPartialBuffer
)

func (m SuspendMode) String() string {
	switch m {
	case SuspendNone:
		return "none"
	case SuspendOnEOP:
		return "eop"
	case SuspendCurrentBuffer:
		return "current-buffer"
	case SuspendPartialBuffer:
		return "partial-buffer"
	default:
		return fmt.Sprintf("suspend(%d)", uint8(m))
	}
}

// SocketConfig is the transfer configuration of one socket.
type SocketConfig struct {
	Dscr       DscrIndex // current descriptor, chain head when started
	XferSize   uint32    // transfer size, zero means infinite
	XferCount  uint32    // progress counter maintained by hardware
	AvailCount uint32    // free buffer count for sockets that need it
	Status     SocketStatus
	IntrMask   SocketIntr
}

// SocketBus is the register interface to the hardware sockets.
type SocketBus interface {
	// GetConfig reads a socket's transfer configuration.
	GetConfig(id SocketID) (SocketConfig, error)
	// SetConfig writes a socket's transfer configuration.
	SetConfig(id SocketID, cfg SocketConfig) error
	// Disable stops a socket immediately.
	Disable(id SocketID) error
	// SendEvent tells a socket that the descriptor at dscr was filled
	// (produce) or drained (consume).
	SendEvent(id SocketID, dscr DscrIndex, produce bool) error
	// AvailCountRequired reports the hardware quirk where the socket
	// must be told how many free buffers it owns.
	AvailCountRequired(id SocketID) bool
	// SetSuspend programs the socket's suspend option.
	SetSuspend(id SocketID, mode SuspendMode) error
	// Valid reports whether the id names an existing socket.
	Valid(id SocketID) bool
}

// EventKind classifies socket interrupts.
type EventKind uint8

const (
	EventProduce EventKind = iota + 1
	EventConsume
	EventError
	EventSuspend
)

func (k EventKind) String() string {
	switch k {
	case EventProduce:
		return "produce"
	case EventConsume:
		return "consume"
	case EventError:
		return "error"
	case EventSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// SocketEvent is one interrupt raised by a socket. Dscr is the socket's
// current descriptor after the event: every descriptor between the last
// reported one and Dscr has completed.
type SocketEvent struct {
	Socket SocketID
	Kind   EventKind
	Dscr   DscrIndex
	Status uint32
}
