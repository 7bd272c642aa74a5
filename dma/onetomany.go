// File: dma/onetomany.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import "github.com/momentics/hioload-dma/api"

// oneToMany distributes produced buffers round robin: buffer k of the
// producer chain goes to consumer (k+offset) mod n.
type oneToMany struct {
	off int
}

func (*oneToMany) kind() api.ChannelType { return api.OneToMany }

func (*oneToMany) chainLengths(count, n int) (int, int) { return count * n, count }

func (t *oneToMany) setOffset(off int) { t.off = off }

func (*oneToMany) selectable() bool { return false }

func (*oneToMany) checkSuspend(_, cons api.SuspendMode) error {
	if cons != api.SuspendNone {
		return api.ErrInvalidSequence.WithContext("suspend", "consumer suspend on one-to-many channel")
	}
	return nil
}

func (t *oneToMany) link(ch *Channel) {
	prod := ch.prod[0]
	n := len(ch.cons)
	total := len(prod.nodes)
	next := make([]int, n)
	for k, p := range prod.nodes {
		i := (k + t.off) % n
		s := ch.cons[i]
		j := next[i]
		next[i]++
		c := s.nodes[j]
		pd := ch.prodDescriptor(prod, k, c, prod.nodes[(k+1)%total], s.id)
		ch.eng.pool.Set(p, pd)
		ch.eng.pool.Set(c, ch.consDescriptor(pd, s, s.nodes[(j+1)%len(s.nodes)], p))
	}
	ch.resetSlots()
}

func (*oneToMany) retire(ch *Channel, _ int, c api.DscrIndex) (*sockSlot, api.DscrIndex, bool) {
	return defaultRetire(ch, c)
}
