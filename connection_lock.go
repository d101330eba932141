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
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/bytedance/gopkg/lang/fastrand"
	"golang.org/x/sys/cpu"
)

type who int32

const (
	none who = iota
	user
	poller
)

type key int32

/* State Diagram
+--------------+         +--------------+
|  processing  |-------->|   flushing   |
+-------+------+         +-------+------+
        |
        |                +--------------+
        +--------------->|   closing    |
                         +--------------+

- "processing" is held by the task owning both ways, it doesn't exist in dialer.
- "flushing" is the outbound way's key, "reading" the inbound one's.
  Both are stopped before the buffers are released.
- "closing" records who closed, close callbacks run once processing is released.
*/

const (
	closing key = iota
	processing
	flushing
	reading
	// total must be at the bottom.
	total
)

const (
	cacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
	maxBackOff    = 8
)

type padKey struct {
	key int32
	_   [cacheLineSize - unsafe.Sizeof(int32(0))]byte
}

const (
	unlocked int32 = iota
	locked
	stopped
)

var keyNames = [total]string{
	closing:    "closing",
	processing: "processing",
	flushing:   "flushing",
	reading:    "reading",
}

func (k key) String() string {
	return keyNames[k]
}

type locker struct {
	// keychain holds one of unlocked, locked or stopped per key,
	// except closing which holds who closed.
	keychain [total]padKey
}

func (l *locker) closeBy(w who) (success bool) {
	return atomic.CompareAndSwapInt32(&l.keychain[closing].key, 0, int32(w))
}

func (l *locker) isCloseBy(w who) (yes bool) {
	return atomic.LoadInt32(&l.keychain[closing].key) == int32(w)
}

func (l *locker) lock(k key) (success bool) {
	return atomic.CompareAndSwapInt32(&l.keychain[k].key, unlocked, locked)
}

// acquire locks the key of a way for op. A stopped key means the connection
// is closed, a held one means another goroutine is already using the way.
func (l *locker) acquire(k key, op string) error {
	if l.lock(k) {
		return nil
	}
	if atomic.LoadInt32(&l.keychain[k].key) == stopped {
		return Exception(ErrConnClosed, "when "+op)
	}
	return Exception(ErrUnsupported, fmt.Sprintf("concurrent %s, %s is held", op, k))
}

func (l *locker) unlock(k key) {
	atomic.StoreInt32(&l.keychain[k].key, unlocked)
}

// stop waits for k to be released, then holds it forever.
func (l *locker) stop(k key) {
	for !atomic.CompareAndSwapInt32(&l.keychain[k].key, unlocked, stopped) && atomic.LoadInt32(&l.keychain[k].key) != stopped {
		backoff := int(fastrand.Int31n(maxBackOff)) + 1
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
	}
}

func (l *locker) isUnlock(k key) bool {
	return atomic.LoadInt32(&l.keychain[k].key) == unlocked
}
