// File: dma/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Notification hand-off. The tracker queues notifications while it holds
// the channel lock; Deliver drains the queue afterwards, in order, on the
// goroutine that released the lock. A callback may call back into the
// channel: nested deliveries are folded into the outer drain loop.

package dma

import (
	"bytes"

	"github.com/momentics/hioload-dma/api"
)

// recycled are the notifications whose buffer goes back to the hardware
// once the tracker moves on.
const recycled = api.NotifyProduce | api.NotifyConsume

type notification struct {
	kind api.Notification
	info *api.BufferInfo
}

// notify queues a notification if the channel subscribed to it. Data of
// streaming buffers is copied: by the time the callback runs the producer
// may already have refilled the buffer.
func (ch *Channel) notify(kind api.Notification, info *api.BufferInfo) {
	if ch.cfg.Callback == nil || ch.cfg.Notify&kind == 0 {
		return
	}
	if info != nil && info.Data != nil && kind&recycled != 0 {
		c := *info
		c.Data = bytes.Clone(info.Data)
		info = &c
	}
	ch.notifyMu.Lock()
	ch.pending.Add(notification{kind: kind, info: info})
	ch.notifyMu.Unlock()
}

func (ch *Channel) nextPending() (notification, bool) {
	ch.notifyMu.Lock()
	defer ch.notifyMu.Unlock()
	if ch.pending.Length() == 0 {
		return notification{}, false
	}
	return ch.pending.Remove().(notification), true
}

func (ch *Channel) pendingLen() int {
	ch.notifyMu.Lock()
	defer ch.notifyMu.Unlock()
	return ch.pending.Length()
}

// Deliver invokes the callback for every queued notification. It must be
// called without the channel lock held.
func (ch *Channel) Deliver() {
	for {
		if !ch.deliverMu.TryLock() {
			// Another goroutine, or an outer frame of this one, is draining.
			return
		}
		for {
			n, ok := ch.nextPending()
			if !ok {
				break
			}
			ch.invoke(n)
		}
		ch.deliverMu.Unlock()
		if ch.pendingLen() == 0 {
			return
		}
	}
}

func (ch *Channel) invoke(n notification) {
	defer func() {
		if r := recover(); r != nil {
			ch.eng.log.Printf("[dma] channel %s: %s callback panicked: %v", ch.name, n.kind, r)
		}
	}()
	ch.cfg.Callback(ch, n.kind, n.info)
}
