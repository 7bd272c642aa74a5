// File: dma/multicast.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import "github.com/momentics/hioload-dma/api"

// multicast fans every produced buffer out to all enabled consumers.
// Buffers return to the producer in chain order once the slowest enabled
// consumer has drained them.
type multicast struct{}

func (*multicast) kind() api.ChannelType { return api.Multicast }

func (*multicast) chainLengths(count, _ int) (int, int) { return count, count }

func (*multicast) setOffset(int) {}

func (*multicast) selectable() bool { return true }

func (*multicast) checkSuspend(_, cons api.SuspendMode) error {
	if cons != api.SuspendNone {
		return api.ErrNotSupported.WithContext("suspend", "consumer suspend on multicast channel")
	}
	return nil
}

func (*multicast) link(ch *Channel) {
	prod := ch.prod[0]
	var enabled []*sockSlot
	for _, s := range ch.cons {
		if s.disabled {
			for _, n := range s.nodes {
				ch.unlink(n)
			}
			continue
		}
		enabled = append(enabled, s)
	}

	count := len(prod.nodes)
	for j, p := range prod.nodes {
		pd := ch.prodDescriptor(prod, j, enabled[0].nodes[j], prod.nodes[(j+1)%count], enabled[0].id)
		ch.eng.pool.Set(p, pd)
		for k, s := range enabled {
			writeNext := p
			if k+1 < len(enabled) {
				writeNext = enabled[k+1].nodes[j]
			}
			ch.eng.pool.Set(s.nodes[j], ch.consDescriptor(pd, s, s.nodes[(j+1)%count], writeNext))
		}
	}
	ch.resetSlots()
}

// retire releases the producer buffer at the commit index when no enabled
// consumer still holds more outstanding buffers than consumer i. Counts are
// compared after the decrement, so equal counts mean caught up.
func (*multicast) retire(ch *Channel, i int, _ api.DscrIndex) (*sockSlot, api.DscrIndex, bool) {
	drained := ch.cons[i].count
	for j, s := range ch.cons {
		if j != i && !s.disabled && s.count > drained {
			return nil, api.NoDscr, false
		}
	}
	prod := ch.prod[0]
	p := prod.commit
	prod.commit = ch.eng.pool.Get(p).WriteNext
	return prod, p, true
}
