// File: dma/manytoone.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import "github.com/momentics/hioload-dma/api"

// manyToOne interleaves the buffers of several producers into one
// consumer chain: consumer node m carries the (m/n)-th buffer of producer
// (m+offset) mod n. A drained buffer goes back to the producer that filled it.
type manyToOne struct {
	off int
}

func (*manyToOne) kind() api.ChannelType { return api.ManyToOne }

func (*manyToOne) chainLengths(count, n int) (int, int) { return count, count * n }

func (t *manyToOne) setOffset(off int) { t.off = off }

func (*manyToOne) selectable() bool { return false }

func (*manyToOne) checkSuspend(prod, _ api.SuspendMode) error {
	if prod != api.SuspendNone {
		return api.ErrInvalidSequence.WithContext("suspend", "producer suspend on many-to-one channel")
	}
	return nil
}

func (t *manyToOne) link(ch *Channel) {
	cons := ch.cons[0]
	n := len(ch.prod)
	total := len(cons.nodes)
	for m, c := range cons.nodes {
		s := ch.prod[(m+t.off)%n]
		j := m / n
		p := s.nodes[j]
		pd := ch.prodDescriptor(s, j, c, s.nodes[(j+1)%len(s.nodes)], cons.id)
		ch.eng.pool.Set(p, pd)
		ch.eng.pool.Set(c, ch.consDescriptor(pd, cons, cons.nodes[(m+1)%total], p))
	}
	ch.resetSlots()
}

func (*manyToOne) retire(ch *Channel, _ int, c api.DscrIndex) (*sockSlot, api.DscrIndex, bool) {
	return defaultRetire(ch, c)
}
