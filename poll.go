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

// Poll monitors fd readiness and calls back the registered FDOperator.
// The poller never reads or writes connection bytes itself,
// it only wakes the task that owns the connection.
type Poll interface {
	// Wait will poll all registered fds, and schedule processing based on the triggered event.
	// The call will block, so the usage can be like:
	//
	//  go wait()
	//
	Wait() error

	// Close the poll and shutdown Wait().
	Close() error

	// Trigger can be used to actively refresh the loop where Wait is located when no event is triggered.
	// On linux systems, eventfd is used by default, and only 1 event is triggered at a time.
	Trigger() error

	// Control the event of file descriptor and the operations is defined by PollEvent.
	Control(operator *FDOperator, event PollEvent) error

	// Alloc the operator from cache. It requires paired with Free after use.
	Alloc() (operator *FDOperator)

	// Free the operator from cache.
	Free(operator *FDOperator)
}

// PollEvent defines the operation of poll.Control.
type PollEvent int

const (
	// PollListen registers a level-triggered read interest that stays armed,
	// used by listeners and the wakeup fd.
	PollListen PollEvent = 0x1

	// PollReadable arms a one-shot read interest.
	// After the event fired, OnRead is called once and the interest must be armed again.
	PollReadable PollEvent = 0x2

	// PollWritable arms a one-shot write interest.
	PollWritable PollEvent = 0x3

	// PollDetach is used to remove the FDOperator from poll.
	PollDetach PollEvent = 0x4
)

// interest bits of one-shot operators
const (
	interestRead  uint32 = 0x1
	interestWrite uint32 = 0x2
)

func (e PollEvent) String() string {
	switch e {
	case PollListen:
		return "listen"
	case PollReadable:
		return "readable"
	case PollWritable:
		return "writable"
	case PollDetach:
		return "detach"
	}
	return "unknown"
}
