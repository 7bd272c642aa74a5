// File: dma/topology.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel topologies. Every produced buffer forms a ring of descriptors:
// the producer node's ReadNext names the first consumer node for that
// buffer, each consumer node's WriteNext names the next one, and the last
// consumer node links back to the producer node. Sockets walk their own
// chain through WriteNext (producers) or ReadNext (consumers).

package dma

import "github.com/momentics/hioload-dma/api"

// topology is the per-type part of a channel.
type topology interface {
	kind() api.ChannelType
	// chainLengths returns the chain length of each producer and consumer
	// socket for count buffers per socket and n sockets on the multi side.
	chainLengths(count, n int) (prodNodes, consNodes int)
	// link rewrites every descriptor of the channel and resets the slots.
	link(ch *Channel)
	// setOffset sets the starting socket index of interleaved topologies.
	setOffset(off int)
	// retire is called after consumer slot i drained node c. It reports
	// which producer node may be handed back, if any.
	retire(ch *Channel, i int, c api.DscrIndex) (prod *sockSlot, p api.DscrIndex, ok bool)
	// checkSuspend validates a SetSuspend request.
	checkSuspend(prod, cons api.SuspendMode) error
	// selectable reports whether consumers may be enabled at runtime.
	selectable() bool
}

func newTopology(cfg ChannelConfig) topology {
	switch cfg.Type {
	case api.OneToMany:
		return &oneToMany{}
	case api.ManyToOne:
		return &manyToOne{}
	default:
		return &multicast{}
	}
}

func (ch *Channel) prodDescriptor(s *sockSlot, j int, readNext, writeNext api.DscrIndex, cons api.SocketID) api.Descriptor {
	return api.Descriptor{
		Buffer: s.bufs[j].View(ch.cfg.ProdHeader),
		Size:   ch.prodSize,
		Sync: api.SyncWord{
			ProdSocket: s.id,
			ConsSocket: cons,
			ProdEvent:  true,
			ProdIntr:   true,
		},
		ReadNext:  readNext,
		WriteNext: writeNext,
	}
}

func (ch *Channel) consDescriptor(prod api.Descriptor, s *sockSlot, readNext, writeNext api.DscrIndex) api.Descriptor {
	return api.Descriptor{
		Buffer: prod.Buffer.Add(ch.cfg.ConsHeader),
		Size:   ch.consSize,
		Sync: api.SyncWord{
			ProdSocket: prod.Sync.ProdSocket,
			ConsSocket: s.id,
			ConsEvent:  true,
			ConsIntr:   true,
		},
		ReadNext:  readNext,
		WriteNext: writeNext,
	}
}

// resetSlots points every enabled socket at its chain head and zeroes
// the credit counters of enabled consumers.
func (ch *Channel) resetSlots() {
	clear(ch.prodOwner)
	clear(ch.consOwner)
	for i, s := range ch.prod {
		s.first, s.active, s.commit = s.nodes[0], s.nodes[0], s.nodes[0]
		for _, n := range s.nodes {
			ch.prodOwner[n] = i
		}
	}
	for i, s := range ch.cons {
		if s.disabled {
			s.active, s.commit = api.NoDscr, api.NoDscr
			continue
		}
		s.first, s.active, s.commit = s.nodes[0], s.nodes[0], api.NoDscr
		s.count = 0
		for _, n := range s.nodes {
			ch.consOwner[n] = i
		}
	}
}

// unlink detaches a descriptor from every chain.
func (ch *Channel) unlink(idx api.DscrIndex) {
	ch.eng.pool.Set(idx, api.Descriptor{ReadNext: api.NoDscr, WriteNext: api.NoDscr})
}

// ringWalk follows the per-buffer ring from producer node p through the
// consumer nodes, stopping when it returns to p.
func (ch *Channel) ringWalk(p api.DscrIndex, fn func(c api.DscrIndex)) {
	limit := len(ch.cons) + 1
	c := ch.eng.pool.Get(p).ReadNext
	for steps := 0; c.Valid() && c != p && steps < limit; steps++ {
		next := ch.eng.pool.Get(c).WriteNext
		fn(c)
		c = next
	}
}

// defaultRetire hands a buffer back as soon as its single consumer drained it.
func defaultRetire(ch *Channel, c api.DscrIndex) (*sockSlot, api.DscrIndex, bool) {
	p := ch.eng.pool.Get(c).WriteNext
	i, ok := ch.prodOwner[p]
	if !ok {
		return nil, api.NoDscr, false
	}
	return ch.prod[i], p, true
}

// fanOut calls fn for each consumer node that shares producer node p.
func (ch *Channel) fanOut(p api.DscrIndex, fn func(slot *sockSlot, c api.DscrIndex)) {
	ch.ringWalk(p, func(c api.DscrIndex) {
		if i, ok := ch.consOwner[c]; ok {
			fn(ch.cons[i], c)
		}
	})
}
