// File: dma/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/internal/concurrency"
)

const (
	// WaitForever makes a lock or event wait block until satisfied.
	WaitForever = concurrency.WaitForever
	// NoWait makes a lock or event wait fail immediately.
	NoWait = concurrency.NoWait
)

// Callback receives channel notifications. info is set for produce,
// consume, send-complete and recv-complete notifications.
type Callback func(ch *Channel, n api.Notification, info *api.BufferInfo)

// ChannelConfig describes a multi-socket channel.
type ChannelConfig struct {
	// Name identifies the channel in logs and debug probes.
	Name string
	Type api.ChannelType

	// Count is the number of buffers per socket on the multi side.
	Count int
	// Size is the full buffer size in bytes, header and footer included.
	Size uint32

	ProdHeader uint32
	ProdFooter uint32
	ConsHeader uint32

	// Producers has one socket unless Type is ManyToOne.
	Producers []api.SocketID
	// Consumers has one socket when Type is ManyToOne.
	Consumers []api.SocketID

	Notify   api.Notification
	Callback Callback

	Mode         api.XferMode
	CacheControl bool

	// LockTimeout bounds the channel lock wait of public operations.
	// Zero follows the engine default; WaitForever waits unbounded.
	LockTimeout time.Duration
}


// ValidateAndSetDefaults checks the configuration and fills defaults.
func (c *ChannelConfig) ValidateAndSetDefaults() error {
	switch c.Type {
	case api.Multicast, api.OneToMany, api.ManyToOne:
	default:
		return api.Errorf(api.ErrCodeBadArgument, "unknown channel type %d", int(c.Type))
	}
	if c.Count < 1 {
		return api.Errorf(api.ErrCodeBadArgument, "buffer count %d", c.Count)
	}
	if c.Size == 0 || c.Size%api.BufferGranularity != 0 || c.Size > api.MaxBufferSize {
		return api.Errorf(api.ErrCodeBadArgument, "buffer size %d", c.Size)
	}
	if c.ProdHeader+c.ProdFooter >= c.Size {
		return api.Errorf(api.ErrCodeBadArgument, "header %d and footer %d exceed size %d",
			c.ProdHeader, c.ProdFooter, c.Size)
	}
	prodSize := c.Size - c.ProdHeader - c.ProdFooter
	if prodSize%api.BufferGranularity != 0 {
		return api.Errorf(api.ErrCodeBadArgument, "producer size %d is not %d-byte granular",
			prodSize, api.BufferGranularity)
	}
	if c.ConsHeader >= prodSize {
		return api.Errorf(api.ErrCodeBadArgument, "consumer header %d exceeds producer size %d",
			c.ConsHeader, prodSize)
	}

	single, multi := c.Producers, c.Consumers
	if c.Type == api.ManyToOne {
		single, multi = c.Consumers, c.Producers
	}
	if len(single) != 1 {
		return api.Errorf(api.ErrCodeBadArgument, "%s channel needs exactly one socket on the single side, got %d",
			c.Type, len(single))
	}
	if len(multi) < 1 || len(multi) > api.MaxSockets {
		return api.Errorf(api.ErrCodeBadArgument, "%s channel needs 1..%d sockets on the multi side, got %d",
			c.Type, api.MaxSockets, len(multi))
	}
	seen := make(map[api.SocketID]bool, len(multi)+1)
	for _, id := range append(append([]api.SocketID{}, c.Producers...), c.Consumers...) {
		if seen[id] {
			return api.Errorf(api.ErrCodeBadArgument, "socket %s listed twice", id)
		}
		seen[id] = true
	}
	if c.Count*len(multi) > 0xFFFF {
		return api.Errorf(api.ErrCodeBadArgument, "%d buffers exceed the descriptor space", c.Count*len(multi))
	}

	if c.Mode != api.ModeBuffer && c.Mode != api.ModeByte {
		return api.Errorf(api.ErrCodeBadArgument, "unknown transfer mode %d", int(c.Mode))
	}
	if c.Callback == nil {
		c.Notify = 0
	}
	return nil
}

func (c *ChannelConfig) String() string {
	return fmt.Sprintf("%s count=%d size=%d prod=%v cons=%v", c.Type, c.Count, c.Size, c.Producers, c.Consumers)
}
