// File: dma/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel control operations. Each one validates its arguments, takes the
// channel lock, checks state and type, touches socket registers only while
// holding the lock, and delivers notifications after releasing it.

package dma

import (
	"errors"
	"time"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/internal/concurrency"
)

const allFlags = ^uint32(0)

// SetXfer starts a transfer of size units (buffers or bytes, see
// UpdateMode); zero means infinite. offset selects the socket that takes
// the first buffer on one-to-many and many-to-one channels.
func (ch *Channel) SetXfer(size uint64, offset int) error {
	if offset < 0 || offset >= len(ch.multiSide()) {
		return api.Errorf(api.ErrCodeBadArgument, "offset %d with %d sockets", offset, len(ch.multiSide()))
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}

	ch.topo.setOffset(offset)
	ch.topo.link(ch)
	ch.xferSize = size
	ch.prodXfer, ch.consXfer = 0, 0
	ch.events.Clear(allFlags)
	if err := ch.program(); err != nil {
		_ = ch.disableAll()
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	ch.state = api.StateActive
	return nil
}

// program enables the sockets on their chain heads, consumers first.
func (ch *Channel) program() error {
	status := api.SocketEnabled
	if ch.mode == api.ModeByte {
		status |= api.SocketUnitBytes
	}
	for _, s := range ch.cons {
		if s.disabled {
			continue
		}
		err := ch.eng.bus.SetConfig(s.id, api.SocketConfig{
			Dscr:     s.first,
			Status:   status,
			IntrMask: api.IntrConsume | api.IntrError | api.IntrSuspend,
		})
		if err != nil {
			return err
		}
	}
	for _, s := range ch.prod {
		var avail uint32
		if ch.eng.bus.AvailCountRequired(s.id) {
			avail = uint32(len(s.nodes))
		}
		err := ch.eng.bus.SetConfig(s.id, api.SocketConfig{
			Dscr:       s.first,
			AvailCount: avail,
			Status:     status,
			IntrMask:   api.IntrProduce | api.IntrError | api.IntrSuspend,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetSuspend programs the suspend option of the producer and consumer
// sockets of an active channel.
func (ch *Channel) SetSuspend(prod, cons api.SuspendMode) error {
	if err := ch.topo.checkSuspend(prod, cons); err != nil {
		return err
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if ch.state != api.StateActive {
		return api.ErrInvalidSequence.WithContext("state", ch.state.String())
	}
	for _, s := range ch.prod {
		if err := ch.eng.bus.SetSuspend(s.id, prod); err != nil {
			return api.ErrDMAFailure.WithContext("cause", err.Error())
		}
	}
	for _, s := range ch.cons {
		if s.disabled {
			continue
		}
		if err := ch.eng.bus.SetSuspend(s.id, cons); err != nil {
			return api.ErrDMAFailure.WithContext("cause", err.Error())
		}
	}
	return nil
}

// Resume clears the suspend options of every socket.
func (ch *Channel) Resume() error {
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if ch.state != api.StateActive {
		return api.ErrInvalidSequence.WithContext("state", ch.state.String())
	}
	for _, s := range ch.sockets() {
		if s.disabled {
			continue
		}
		if err := ch.eng.bus.SetSuspend(s.id, api.SuspendNone); err != nil {
			return api.ErrDMAFailure.WithContext("cause", err.Error())
		}
	}
	ch.events.Clear(api.FlagSuspend)
	return nil
}

// Abort stops all sockets immediately and moves the channel to Aborted.
// Aborting an aborted channel is a no-op.
func (ch *Channel) Abort() error {
	// Event servicing is held so no interrupt observes a half-aborted channel.
	release := ch.eng.Hold()
	if err := ch.acquire(); err != nil {
		release()
		return err
	}
	if ch.state == api.StateAborted {
		ch.lock.Unlock()
		release()
		return nil
	}
	err := ch.disableAll()
	ch.events.Clear(allFlags &^ api.FlagAborted)
	ch.events.Set(api.FlagAborted)
	ch.state = api.StateAborted
	ch.notify(api.NotifyAborted, nil)
	ch.lock.Unlock()
	release()

	ch.Deliver()
	if err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	return nil
}

// Reset stops all sockets, clears every descriptor, counter and event,
// and returns the channel to Configured. It is the only way out of the
// Aborted and Error states. Goroutines blocked in a wait on the channel
// return ErrAborted.
func (ch *Channel) Reset() error {
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	err := ch.disableAll()
	for _, s := range ch.cons {
		s.count = 0
	}
	ch.topo.link(ch)
	if ch.override.Valid() {
		ch.unlink(ch.override)
	}
	ch.xferSize, ch.prodXfer, ch.consXfer = 0, 0, 0
	ch.recvInfo, ch.sendInfo = api.BufferInfo{}, api.BufferInfo{}
	ch.events.Clear(allFlags)
	ch.events.Interrupt()
	ch.state = api.StateConfigured
	if err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	return nil
}

// SocketSelect enables the consumers whose bit is set in mask and disables
// the rest. Disabled consumers keep their credit count frozen and no
// longer hold back buffer release.
func (ch *Channel) SocketSelect(mask uint32) error {
	if !ch.topo.selectable() {
		return api.ErrNotSupported.WithContext("type", ch.Type().String())
	}
	n := len(ch.cons)
	if mask == 0 || mask>>n != 0 {
		return api.Errorf(api.ErrCodeBadArgument, "socket mask %#x with %d consumers", mask, n)
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}

	changed := false
	for i, s := range ch.cons {
		off := mask&(1<<i) == 0
		if off != s.disabled {
			s.disabled = off
			changed = true
		}
	}
	if !changed {
		return nil
	}
	for _, s := range ch.cons {
		if s.disabled {
			if err := ch.eng.bus.Disable(s.id); err != nil {
				return api.ErrDMAFailure.WithContext("cause", err.Error())
			}
		}
	}
	ch.topo.link(ch)
	return nil
}

// SelectedSockets returns the enabled consumer mask.
func (ch *Channel) SelectedSockets() uint32 {
	_ = ch.lock.Lock(WaitForever)
	defer ch.lock.Unlock()
	var mask uint32
	for i, s := range ch.cons {
		if !s.disabled {
			mask |= 1 << i
		}
	}
	return mask
}

// UpdateMode switches between buffer and byte transfer units.
func (ch *Channel) UpdateMode(mode api.XferMode) error {
	if mode != api.ModeBuffer && mode != api.ModeByte {
		return api.Errorf(api.ErrCodeBadArgument, "transfer mode %d", int(mode))
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}
	ch.mode = mode
	return nil
}

// CacheControl turns cache maintenance of channel buffers on or off.
func (ch *Channel) CacheControl(on bool) error {
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}
	ch.cacheOn = on
	return nil
}

// GetStatus returns the channel state and the transfer counters of the
// socket pair that includes multi-side socket sckIndex.
func (ch *Channel) GetStatus(sckIndex int) (api.ChannelStatus, error) {
	if sckIndex < 0 || sckIndex >= len(ch.multiSide()) {
		return api.ChannelStatus{}, api.Errorf(api.ErrCodeBadArgument, "socket index %d", sckIndex)
	}
	if err := ch.acquire(); err != nil {
		return api.ChannelStatus{}, err
	}
	defer ch.lock.Unlock()

	prod, cons := ch.prod[0], ch.cons[0]
	if ch.cfg.Type == api.ManyToOne {
		prod = ch.prod[sckIndex]
	} else {
		cons = ch.cons[sckIndex]
	}
	pc, err := ch.eng.bus.GetConfig(prod.id)
	if err != nil {
		return api.ChannelStatus{}, api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	cc, err := ch.eng.bus.GetConfig(cons.id)
	if err != nil {
		return api.ChannelStatus{}, api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	return api.ChannelStatus{
		State:         ch.state,
		ProdXferCount: uint64(pc.XferCount),
		ConsXferCount: uint64(cc.XferCount),
	}, nil
}

// Transferred returns the units produced and released since SetXfer.
func (ch *Channel) Transferred() (prod, cons uint64) {
	_ = ch.lock.Lock(WaitForever)
	defer ch.lock.Unlock()
	return ch.prodXfer, ch.consXfer
}

// WaitForCompletion blocks until a finite transfer completes.
func (ch *Channel) WaitForCompletion(timeout time.Duration) error {
	if err := ch.acquire(); err != nil {
		return err
	}
	state, infinite := ch.state, ch.xferSize == 0
	flags, gen := ch.events.Get(), ch.events.Generation()
	ch.lock.Unlock()

	switch state {
	case api.StateConfigured:
		if flags&api.FlagXferCplt != 0 {
			return nil
		}
		return api.ErrInvalidSequence.WithContext("state", state.String())
	case api.StateActive:
		if infinite {
			return api.ErrInvalidSequence.WithContext("transfer", "infinite")
		}
	case api.StateInCompletion:
	case api.StateAborted:
		return api.ErrAborted
	case api.StateError:
		return api.ErrDMAFailure
	case api.StateNotConfigured:
		return api.ErrNotConfigured
	default:
		return api.ErrAlreadyStarted.WithContext("state", state.String())
	}
	return ch.wait(gen, api.FlagXferCplt, timeout)
}

// wait blocks for flag and maps abort, error, timeout, reset and destroy
// outcomes. gen is the event generation sampled with the channel state.
func (ch *Channel) wait(gen uint64, flag uint32, timeout time.Duration) error {
	got, err := ch.events.WaitSince(gen, flag|api.FlagAborted|api.FlagError, concurrency.WaitOr, false, timeout)
	switch {
	case errors.Is(err, concurrency.ErrFlagsDeleted):
		return api.ErrNotConfigured.WithContext("channel", ch.name)
	case errors.Is(err, concurrency.ErrWaitInterrupted):
		return api.ErrAborted.WithContext("cause", "reset")
	case err != nil:
		return api.ErrTimeout.WithContext("channel", ch.name)
	case got&api.FlagAborted != 0:
		return api.ErrAborted
	case got&api.FlagError != 0:
		return api.ErrDMAFailure
	}
	return nil
}
