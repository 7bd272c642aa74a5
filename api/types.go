// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ChannelState enumerates the state of a multi-socket channel.
type ChannelState int

const (
	StateNotConfigured ChannelState = iota
	StateConfigured
	StateActive
	StateProdOverride
	StateConsOverride
	StateInCompletion
	StateAborted
	StateError
)

func (s ChannelState) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	case StateProdOverride:
		return "producer-override"
	case StateConsOverride:
		return "consumer-override"
	case StateInCompletion:
		return "in-completion"
	case StateAborted:
		return "aborted"
	case StateError:
		return "error"
	default:
		return "not-configured"
	}
}

// ChannelType selects how buffers move between the sockets of a channel.
type ChannelType int

const (
	// Multicast copies every produced buffer to all consumers.
	Multicast ChannelType = iota
	// OneToMany distributes produced buffers round-robin over consumers.
	OneToMany
	// ManyToOne interleaves buffers from several producers into one consumer.
	ManyToOne
)

func (t ChannelType) String() string {
	switch t {
	case Multicast:
		return "multicast"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	default:
		return "unknown"
	}
}

// XferMode selects the unit of transfer sizes.
type XferMode int

const (
	ModeBuffer XferMode = iota
	ModeByte
)

func (m XferMode) String() string {
	if m == ModeByte {
		return "byte"
	}
	return "buffer"
}

const (
	// BufferGranularity is the hardware buffer size granularity.
	BufferGranularity = 16
	// MaxBufferSize is the largest buffer a single descriptor can describe.
	MaxBufferSize = 0xFFF0
	// MaxSockets bounds the sockets on the multi side of a channel.
	MaxSockets = 8
)

// ChannelStatus is a snapshot returned by Channel.GetStatus.
type ChannelStatus struct {
	State         ChannelState
	ProdXferCount uint64
	ConsXferCount uint64
}
