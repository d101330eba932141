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
	"sync"
	"sync/atomic"
)

// FDOperator is a collection of operations on file descriptors.
type FDOperator struct {
	// FD is file descriptor, poll will bind when register.
	FD int

	// The FDOperator provides three operations of reading, writing, and hanging.
	// The poll actively fire the FDOperator when fd changes, no check the return value of FDOperator.
	OnRead  func(p Poll) error
	OnWrite func(p Poll) error
	OnHup   func(p Poll) error

	// poll is the registered location of the file descriptor.
	poll Poll

	// mu guards the one-shot interest bits and the registration.
	mu         sync.Mutex
	interest   uint32
	registered bool
	level      bool

	// private, used by operatorCache
	next  *FDOperator
	state int32 // CAS: 0(unused) 1(inuse) 2(do-done)
	index int32 // index in operatorCache
}

// Control arms or removes the interest of the operator on its poll.
func (op *FDOperator) Control(event PollEvent) error {
	if op.poll == nil {
		return Exception(ErrConnClosed, "when control "+event.String())
	}
	return op.poll.Control(op, event)
}

// Free returns the operator to its poll cache.
func (op *FDOperator) Free() {
	if op.poll != nil {
		op.poll.Free(op)
	}
}

func (op *FDOperator) do() (can bool) {
	return atomic.CompareAndSwapInt32(&op.state, 1, 2)
}

func (op *FDOperator) done() {
	atomic.StoreInt32(&op.state, 1)
}

func (op *FDOperator) inuse() {
	for !atomic.CompareAndSwapInt32(&op.state, 0, 1) {
		if atomic.LoadInt32(&op.state) == 1 {
			return
		}
		runtime.Gosched()
	}
}

func (op *FDOperator) unused() {
	for !atomic.CompareAndSwapInt32(&op.state, 1, 0) {
		if atomic.LoadInt32(&op.state) == 0 {
			return
		}
		runtime.Gosched()
	}
}

func (op *FDOperator) isUnused() bool {
	return atomic.LoadInt32(&op.state) == 0
}

// fire clears and returns the interest bits satisfied by ready.
func (op *FDOperator) fire(ready uint32) (fired uint32) {
	op.mu.Lock()
	fired = op.interest & ready
	op.interest &^= fired
	op.mu.Unlock()
	return fired
}

func (op *FDOperator) isRegistered() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.registered
}

func (op *FDOperator) reset() {
	op.FD, op.OnRead, op.OnWrite, op.OnHup = 0, nil, nil, nil
	op.poll = nil
	op.mu.Lock()
	op.interest, op.registered, op.level = 0, false, false
	op.mu.Unlock()
}
