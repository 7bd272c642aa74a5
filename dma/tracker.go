// File: dma/tracker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interrupt-time bookkeeping. A socket event names the socket's current
// descriptor; every node between the tracker's position and that index has
// completed, so coalesced interrupts are retired in strict chain order.

package dma

import (
	"github.com/momentics/hioload-dma/api"
)

// HandleSocketEvent runs with the dispatcher's service lock held.
// The channel lock is taken without a bound: interrupts always win.
func (ch *Channel) HandleSocketEvent(ev api.SocketEvent) {
	_ = ch.lock.Lock(WaitForever)
	defer ch.lock.Unlock()
	ch.handle(ev)
}

func (ch *Channel) handle(ev api.SocketEvent) {
	switch ch.state {
	case api.StateNotConfigured, api.StateAborted, api.StateError:
		ch.dropEvent(ev)
		return
	}
	switch ev.Kind {
	case api.EventError:
		ch.fail(ev)
		return
	case api.EventSuspend:
		ch.suspended(ev)
		return
	}

	switch ch.state {
	case api.StateProdOverride:
		if ev.Socket == ch.ovrSocket && ev.Kind == api.EventProduce {
			ch.recvDone()
			return
		}
	case api.StateConsOverride:
		if ev.Socket == ch.ovrSocket && ev.Kind == api.EventConsume {
			ch.sendDone()
			return
		}
	case api.StateActive, api.StateInCompletion:
		switch ev.Kind {
		case api.EventProduce:
			if i := ch.prodIndex(ev.Socket); i >= 0 && ch.state == api.StateActive {
				ch.produced(i, ev.Dscr)
				return
			}
		case api.EventConsume:
			if i := ch.consIndex(ev.Socket); i >= 0 && !ch.cons[i].disabled {
				ch.consumed(i, ev.Dscr)
				return
			}
		}
	}
	ch.dropEvent(ev)
}

func (ch *Channel) dropEvent(ev api.SocketEvent) {
	ch.eng.ctrl.AddMetric(MetricEventsDropped, 1)
	ch.eng.log.Printf("[dma] channel %s: dropped %s event of socket %s in state %s",
		ch.name, ev.Kind, ev.Socket, ch.state)
}

func (ch *Channel) prodIndex(id api.SocketID) int {
	for i, s := range ch.prod {
		if s.id == id {
			return i
		}
	}
	return -1
}

func (ch *Channel) consIndex(id api.SocketID) int {
	for i, s := range ch.cons {
		if s.id == id {
			return i
		}
	}
	return -1
}

// units converts a byte count into transfer units of the current mode.
func (ch *Channel) units(n uint32) uint64 {
	if ch.mode == api.ModeByte {
		return uint64(n)
	}
	return 1
}

func (ch *Channel) bufferInfo(d api.Descriptor) *api.BufferInfo {
	return &api.BufferInfo{
		Buffer: d.Buffer,
		Data:   ch.eng.heap.Bytes(d.Buffer, int(d.Count)),
		Count:  d.Count,
		Size:   d.Size,
		Status: d.Flags,
	}
}

// produced exposes every buffer filled by producer slot i up to, but not
// including, node upto to the consumers sharing it. A node is filled when
// the socket has marked it occupied; the tracker never exposes an empty one.
func (ch *Channel) produced(i int, upto api.DscrIndex) {
	s := ch.prod[i]
	for steps := 0; steps < len(s.nodes); steps++ {
		if steps > 0 && s.active == upto {
			return
		}
		p := s.active
		if !p.Valid() {
			break
		}
		pd := ch.eng.pool.Get(p)
		if !pd.Occupied() {
			if p != upto {
				ch.eng.log.Printf("[dma] channel %s: producer %s reported descriptor %d ahead of filled data",
					ch.name, s.id, upto)
			}
			return
		}
		var consCount uint32
		if pd.Count > ch.cfg.ConsHeader {
			consCount = pd.Count - ch.cfg.ConsHeader
		}
		if ch.cacheOn {
			ch.eng.cache.Invalidate(pd.Buffer, int(pd.Count))
		}
		ch.fanOut(p, func(slot *sockSlot, c api.DscrIndex) {
			cd := ch.eng.pool.Get(c)
			cd.Count = consCount
			cd.Flags = pd.Flags | api.DscrOccupied
			ch.eng.pool.Set(c, cd)
			slot.count++
			if err := ch.eng.bus.SendEvent(slot.id, c, true); err != nil {
				ch.eng.log.Printf("[dma] channel %s: produce event to %s: %v", ch.name, slot.id, err)
			}
		})
		s.active = pd.WriteNext

		ch.eng.ctrl.AddMetric(MetricBuffersProduced, 1)
		ch.events.Set(api.FlagProduce)
		ch.notify(api.NotifyProduce, ch.bufferInfo(pd))

		ch.prodXfer += ch.units(pd.Count)
		if ch.xferSize > 0 && ch.prodXfer >= ch.xferSize {
			for _, ps := range ch.prod {
				if err := ch.eng.bus.Disable(ps.id); err != nil {
					ch.eng.log.Printf("[dma] channel %s: disable %s: %v", ch.name, ps.id, err)
				}
			}
			ch.state = api.StateInCompletion
			return
		}
	}
	if s.active != upto {
		ch.eng.log.Printf("[dma] channel %s: producer %s reported descriptor %d outside its chain",
			ch.name, s.id, upto)
	}
}

// consumed retires every node drained by consumer slot i up to node upto.
// The oldest outstanding node is drained once the socket cleared its
// occupied flag.
func (ch *Channel) consumed(i int, upto api.DscrIndex) {
	s := ch.cons[i]
	for steps := 0; steps < len(s.nodes); steps++ {
		if steps > 0 && s.active == upto {
			break
		}
		c := s.active
		if !c.Valid() || s.count == 0 || ch.eng.pool.Get(c).Occupied() {
			if c != upto {
				ch.eng.log.Printf("[dma] channel %s: consumer %s reported descriptor %d ahead of drained data",
					ch.name, s.id, upto)
			}
			break
		}
		s.count--
		if prod, p, ok := ch.topo.retire(ch, i, c); ok {
			ch.handBack(prod, p)
		}
		s.active = ch.eng.pool.Get(c).ReadNext
	}

	if ch.state == api.StateInCompletion && ch.drained() {
		if err := ch.disableAll(); err != nil {
			ch.eng.log.Printf("[dma] channel %s: %v", ch.name, err)
		}
		ch.state = api.StateConfigured
		ch.events.Set(api.FlagXferCplt)
		ch.notify(api.NotifyXferComplete, nil)
	}
}

// handBack marks producer node p empty and returns the credit to its socket.
func (ch *Channel) handBack(prod *sockSlot, p api.DscrIndex) {
	pd := ch.eng.pool.Get(p)
	info := ch.bufferInfo(pd)
	pd.Flags &^= api.DscrOccupied
	pd.Count = 0
	ch.eng.pool.Set(p, pd)
	if !prod.commit.Valid() || prod.commit == p {
		prod.commit = pd.WriteNext
	}
	ch.eng.cache.Barrier()
	if err := ch.eng.bus.SendEvent(prod.id, prod.commit, false); err != nil {
		ch.eng.log.Printf("[dma] channel %s: consume event to %s: %v", ch.name, prod.id, err)
	}

	ch.consXfer += ch.units(info.Count)
	ch.eng.ctrl.AddMetric(MetricBuffersReleased, 1)
	ch.events.Set(api.FlagConsume)
	ch.notify(api.NotifyConsume, info)
}

// drained reports whether no enabled consumer holds a buffer.
func (ch *Channel) drained() bool {
	for _, s := range ch.cons {
		if !s.disabled && s.count != 0 {
			return false
		}
	}
	return true
}

// fail moves the channel to the error state. Counters are not trusted
// afterwards; only Reset leaves this state.
func (ch *Channel) fail(ev api.SocketEvent) {
	ch.eng.log.Printf("[dma] channel %s: socket %s error, status %#x", ch.name, ev.Socket, ev.Status)
	if err := ch.disableAll(); err != nil {
		ch.eng.log.Printf("[dma] channel %s: %v", ch.name, err)
	}
	ch.state = api.StateError
	ch.events.Set(api.FlagError)
	ch.notify(api.NotifyError, nil)
}

func (ch *Channel) suspended(ev api.SocketEvent) {
	ch.events.Set(api.FlagSuspend)
	if ch.prodIndex(ev.Socket) >= 0 {
		ch.notify(api.NotifyProdSuspend, nil)
		return
	}
	ch.notify(api.NotifyConsSuspend, nil)
}
