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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly || linux

package netway

import (
	"sync"
	"testing"
)

func TestFDOperatorRacedAccess(t *testing.T) {
	poll, err := openDefaultPoll()
	MustNil(t, err)
	defer poll.Close()

	op := poll.Alloc()
	op.FD = 1 << 20

	// registered by Control
	poll.setOperator(op)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// looked up by Wait
		nop := poll.getOperator(op.FD)
		MustTrue(t, nop == op)
	}()
	wg.Wait()

	// a stale operator never removes the one registered after it
	stale := &FDOperator{FD: op.FD}
	poll.delOperator(stale)
	MustTrue(t, poll.getOperator(op.FD) == op)
	poll.delOperator(op)
	MustTrue(t, poll.getOperator(op.FD) == nil)
	poll.Free(op)
}
