// File: dma/override.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-shot override transfers: one caller buffer goes through one socket
// of an idle channel using the channel's spare descriptor.

package dma

import (
	"time"

	"github.com/momentics/hioload-dma/api"
)

func (ch *Channel) checkOverrideBuffer(buf api.BufferInfo, recv bool) error {
	if buf.Buffer.IsZero() {
		return api.Errorf(api.ErrCodeBadArgument, "override buffer has no address")
	}
	if buf.Size == 0 || buf.Size > api.MaxBufferSize {
		return api.Errorf(api.ErrCodeBadArgument, "override buffer size %d", buf.Size)
	}
	if recv && buf.Size%api.BufferGranularity != 0 {
		return api.Errorf(api.ErrCodeBadArgument, "receive buffer size %d is not %d-byte granular",
			buf.Size, api.BufferGranularity)
	}
	if !recv && buf.Count > buf.Size {
		return api.Errorf(api.ErrCodeBadArgument, "send count %d exceeds size %d", buf.Count, buf.Size)
	}
	if !ch.eng.heap.Contains(buf.Buffer, int(buf.Size)) {
		return api.Errorf(api.ErrCodeBadArgument, "override buffer outside the DMA heap")
	}
	return nil
}

// SetupSendBuffer sends buf through the consumer side socket sckIndex
// (always zero on many-to-one channels). Completion fires SendComplete
// and sets the send-complete event.
func (ch *Channel) SetupSendBuffer(buf api.BufferInfo, sckIndex int) error {
	if err := ch.checkOverrideBuffer(buf, false); err != nil {
		return err
	}
	if sckIndex < 0 || sckIndex >= len(ch.cons) {
		return api.Errorf(api.ErrCodeBadArgument, "consumer index %d", sckIndex)
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}
	sck := ch.cons[sckIndex].id

	if err := ch.eng.bus.Disable(sck); err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	flags := api.DscrOccupied | buf.Status&(api.DscrEOP|api.DscrMarker)
	ch.eng.pool.Set(ch.override, api.Descriptor{
		Buffer:    buf.Buffer,
		Size:      buf.Size,
		Count:     buf.Count,
		Flags:     flags,
		Sync:      api.SyncWord{ConsSocket: sck, ConsEvent: true, ConsIntr: true},
		ReadNext:  api.NoDscr,
		WriteNext: api.NoDscr,
	})
	if ch.cacheOn {
		ch.eng.cache.Clean(buf.Buffer, int(buf.Count))
	}
	return ch.startOverride(sck, api.StateConsOverride, api.IntrConsume)
}

// SetupRecvBuffer receives one buffer from the producer side socket
// sckIndex (always zero unless the channel is many-to-one) into buf.
func (ch *Channel) SetupRecvBuffer(buf api.BufferInfo, sckIndex int) error {
	if err := ch.checkOverrideBuffer(buf, true); err != nil {
		return err
	}
	if sckIndex < 0 || sckIndex >= len(ch.prod) {
		return api.Errorf(api.ErrCodeBadArgument, "producer index %d", sckIndex)
	}
	if err := ch.acquire(); err != nil {
		return err
	}
	defer ch.lock.Unlock()
	if err := ch.requireConfigured(); err != nil {
		return err
	}
	sck := ch.prod[sckIndex].id

	if err := ch.eng.bus.Disable(sck); err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	ch.eng.pool.Set(ch.override, api.Descriptor{
		Buffer:    buf.Buffer,
		Size:      buf.Size,
		Sync:      api.SyncWord{ProdSocket: sck, ProdEvent: true, ProdIntr: true},
		ReadNext:  api.NoDscr,
		WriteNext: api.NoDscr,
	})
	return ch.startOverride(sck, api.StateProdOverride, api.IntrProduce)
}

func (ch *Channel) startOverride(sck api.SocketID, state api.ChannelState, intr api.SocketIntr) error {
	ch.events.Clear(api.FlagSendCplt | api.FlagRecvCplt | api.FlagAborted | api.FlagError)
	ch.ovrSocket = sck
	err := ch.eng.bus.SetConfig(sck, api.SocketConfig{
		Dscr:     ch.override,
		XferSize: 1,
		Status:   api.SocketEnabled,
		IntrMask: intr | api.IntrError,
	})
	if err != nil {
		return api.ErrDMAFailure.WithContext("cause", err.Error())
	}
	ch.state = state
	return nil
}

// recvDone completes a receive override.
func (ch *Channel) recvDone() {
	d := ch.eng.pool.Get(ch.override)
	if ch.cacheOn {
		ch.eng.cache.Invalidate(d.Buffer, int(d.Count))
	}
	info := ch.bufferInfo(d)
	ch.recvInfo = *info
	ch.finishOverride()
	ch.prodXfer += ch.units(d.Count)
	ch.events.Set(api.FlagRecvCplt)
	ch.notify(api.NotifyRecvComplete, info)
}

// sendDone completes a send override.
func (ch *Channel) sendDone() {
	d := ch.eng.pool.Get(ch.override)
	info := ch.bufferInfo(d)
	ch.sendInfo = *info
	ch.finishOverride()
	ch.consXfer += ch.units(d.Count)
	ch.events.Set(api.FlagSendCplt)
	ch.notify(api.NotifySendComplete, info)
}

func (ch *Channel) finishOverride() {
	if err := ch.eng.bus.Disable(ch.ovrSocket); err != nil {
		ch.eng.log.Printf("[dma] channel %s: disable %s: %v", ch.name, ch.ovrSocket, err)
	}
	ch.unlink(ch.override)
	ch.state = api.StateConfigured
}

// WaitForRecvBuffer blocks until a receive override completes and returns
// the received buffer.
func (ch *Channel) WaitForRecvBuffer(timeout time.Duration) (api.BufferInfo, error) {
	if err := ch.waitOverride(api.StateProdOverride, api.FlagRecvCplt, timeout); err != nil {
		return api.BufferInfo{}, err
	}
	if err := ch.acquire(); err != nil {
		return api.BufferInfo{}, err
	}
	defer ch.lock.Unlock()
	ch.events.Clear(api.FlagRecvCplt)
	return ch.recvInfo, nil
}

// WaitForSendComplete blocks until a send override completes and returns
// the sent buffer.
func (ch *Channel) WaitForSendComplete(timeout time.Duration) (api.BufferInfo, error) {
	if err := ch.waitOverride(api.StateConsOverride, api.FlagSendCplt, timeout); err != nil {
		return api.BufferInfo{}, err
	}
	if err := ch.acquire(); err != nil {
		return api.BufferInfo{}, err
	}
	defer ch.lock.Unlock()
	ch.events.Clear(api.FlagSendCplt)
	return ch.sendInfo, nil
}

func (ch *Channel) waitOverride(state api.ChannelState, flag uint32, timeout time.Duration) error {
	if err := ch.acquire(); err != nil {
		return err
	}
	cur := ch.state
	flags, gen := ch.events.Get(), ch.events.Generation()
	ch.lock.Unlock()

	switch {
	case cur == state || flags&flag != 0:
	case cur == api.StateAborted:
		return api.ErrAborted
	case cur == api.StateError:
		return api.ErrDMAFailure
	case cur == api.StateNotConfigured:
		return api.ErrNotConfigured
	default:
		return api.ErrInvalidSequence.WithContext("state", cur.String())
	}
	return ch.wait(gen, flag, timeout)
}
