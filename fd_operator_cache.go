// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netway

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// operatorCache keeps FDOperators alive for the whole life of a poll.
// Freed operators are parked in a freelist and only reused once the poll
// has finished handling the current batch of events, so that an event of a
// closed fd never reaches a recycled operator.
type operatorCache struct {
	locked int32
	first  *FDOperator
	cache  []*FDOperator
	// freelist keeps indexes only, the operators stay referenced by cache
	freelist   []int32
	freelocked int32
}

func newOperatorCache() *operatorCache {
	return &operatorCache{
		cache:    make([]*FDOperator, 0, 1024),
		freelist: make([]int32, 0, 1024),
	}
}

func (c *operatorCache) alloc() *FDOperator {
	lock(&c.locked)
	if c.first == nil {
		c.grow()
	}
	op := c.first
	c.first = op.next
	op.next = nil
	unlock(&c.locked)
	return op
}

// grow allocates a page worth of operators, must be called with locked held.
func (c *operatorCache) grow() {
	n := int(block4k / unsafe.Sizeof(FDOperator{}))
	if n == 0 {
		n = 1
	}
	index := int32(len(c.cache))
	for i := 0; i < n; i++ {
		op := &FDOperator{index: index}
		c.cache = append(c.cache, op)
		op.next = c.first
		c.first = op
		index++
	}
}

// freeable resets op and parks it until the next free.
func (c *operatorCache) freeable(op *FDOperator) {
	op.unused()
	op.reset()
	lock(&c.freelocked)
	c.freelist = append(c.freelist, op.index)
	unlock(&c.freelocked)
}

// free moves every parked operator back to the free chain.
func (c *operatorCache) free() {
	lock(&c.freelocked)
	defer unlock(&c.freelocked)
	if len(c.freelist) == 0 {
		return
	}
	lock(&c.locked)
	for _, idx := range c.freelist {
		op := c.cache[idx]
		op.next = c.first
		c.first = op
	}
	c.freelist = c.freelist[:0]
	unlock(&c.locked)
}

// size returns the number of operators ever allocated.
func (c *operatorCache) size() int {
	lock(&c.locked)
	defer unlock(&c.locked)
	return len(c.cache)
}

func lock(locked *int32) {
	for !atomic.CompareAndSwapInt32(locked, 0, 1) {
		runtime.Gosched()
	}
}

func unlock(locked *int32) {
	atomic.StoreInt32(locked, 0)
}
