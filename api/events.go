// File: api/events.go
// Package api defines channel notifications and completion event bits.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// Notification is a callback type; channels are configured with a mask of them.
type Notification uint32

const (
	NotifyProduce Notification = 1 << iota
	NotifyConsume
	NotifySendComplete
	NotifyRecvComplete
	NotifyXferComplete
	NotifyAborted
	NotifyProdSuspend
	NotifyConsSuspend
	NotifyError
)

// NotifyAll subscribes to every notification.
const NotifyAll = NotifyProduce | NotifyConsume | NotifySendComplete | NotifyRecvComplete |
	NotifyXferComplete | NotifyAborted | NotifyProdSuspend | NotifyConsSuspend | NotifyError

var notificationNames = [...]string{
	"produce", "consume", "send-complete", "recv-complete",
	"xfer-complete", "aborted", "prod-suspend", "cons-suspend", "error",
}

func (n Notification) String() string {
	if n == 0 {
		return "none"
	}
	var parts []string
	for i, name := range notificationNames {
		if n&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Event flag bits set on a channel's completion event group.
const (
	FlagProduce uint32 = 1 << iota
	FlagConsume
	FlagXferCplt
	FlagSendCplt
	FlagRecvCplt
	FlagAborted
	FlagError
	FlagSuspend
)
