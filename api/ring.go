// Package api
// Author: momentics@gmail.com
//
// Bounded queue contract for handing interrupt events between threads.

package api

// Ring is a bounded FIFO safe for concurrent Enqueue and Dequeue.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes the oldest item, returns false if empty.
	Dequeue() (T, bool)
	Len() int
	Cap() int
}
