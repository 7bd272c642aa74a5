// File: dma/builder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chain allocation. Producer slots own the buffers; consumer nodes are
// views into them and never free memory. Any failure rolls back everything
// allocated so far.

package dma

import (
	"errors"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/pool"
)

// build allocates every chain of the channel plus the override descriptor.
func (ch *Channel) build() (err error) {
	defer func() {
		if err == nil {
			return
		}
		if rerr := ch.release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	prodNodes, consNodes := ch.topo.chainLengths(ch.cfg.Count, len(ch.multiSide()))
	for _, s := range ch.prod {
		if err = ch.allocChain(s, prodNodes, true); err != nil {
			return err
		}
	}
	for _, s := range ch.cons {
		if err = ch.allocChain(s, consNodes, false); err != nil {
			return err
		}
	}
	ch.override, err = ch.eng.allocDscr()
	return err
}

func (ch *Channel) allocChain(s *sockSlot, n int, withBuffers bool) error {
	s.nodes = make([]api.DscrIndex, 0, n)
	for i := 0; i < n; i++ {
		idx, err := ch.eng.allocDscr()
		if err != nil {
			return err
		}
		s.nodes = append(s.nodes, idx)
		if !withBuffers {
			continue
		}
		blk, err := pool.AllocBlock(ch.eng.heap, int(ch.cfg.Size))
		if err != nil {
			return err
		}
		s.bufs = append(s.bufs, blk)
	}
	return nil
}

// release returns all descriptors and frees producer-owned buffers once.
func (ch *Channel) release() error {
	var dscrs []api.DscrIndex
	var errs []error
	for _, s := range ch.sockets() {
		dscrs = append(dscrs, s.nodes...)
		for _, blk := range s.bufs {
			if err := blk.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		s.nodes, s.bufs = nil, nil
		s.first, s.active, s.commit = api.NoDscr, api.NoDscr, api.NoDscr
	}
	if ch.override.Valid() {
		dscrs = append(dscrs, ch.override)
		ch.override = api.NoDscr
	}
	if err := ch.eng.freeDscrs(dscrs); err != nil {
		errs = append(errs, err)
	}
	clear(ch.prodOwner)
	clear(ch.consOwner)
	return errors.Join(errs...)
}
