// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// CacheOp is one recorded cache maintenance call.
type CacheOp struct {
	Clean bool // false for invalidate
	Ref   api.BufferRef
	Len   int
}

// Cache records cache maintenance and barriers.
type Cache struct {
	mu       sync.Mutex
	ops      []CacheOp
	barriers int
}

// NewCache creates an empty recorder.
func NewCache() *Cache { return &Cache{} }

func (c *Cache) Clean(ref api.BufferRef, n int) {
	c.mu.Lock()
	c.ops = append(c.ops, CacheOp{Clean: true, Ref: ref, Len: n})
	c.mu.Unlock()
}

func (c *Cache) Invalidate(ref api.BufferRef, n int) {
	c.mu.Lock()
	c.ops = append(c.ops, CacheOp{Ref: ref, Len: n})
	c.mu.Unlock()
}

func (c *Cache) Barrier() {
	c.mu.Lock()
	c.barriers++
	c.mu.Unlock()
}

// Ops returns a copy of the recorded operations.
func (c *Cache) Ops() []CacheOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CacheOp(nil), c.ops...)
}

// Barriers returns the number of Barrier calls.
func (c *Cache) Barriers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barriers
}

var _ api.Cache = (*Cache)(nil)
