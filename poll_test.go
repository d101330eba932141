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
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// waitCount polls n until it reaches expect or a second passed.
func waitCount(n *int32, expect int32) int32 {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v := atomic.LoadInt32(n); v >= expect {
			return v
		}
		time.Sleep(time.Millisecond)
	}
	return atomic.LoadInt32(n)
}

func TestPollTrigger(t *testing.T) {
	var stop = make(chan error)
	p, err := openDefaultPoll()
	MustNil(t, err)
	go func() {
		stop <- p.Wait()
	}()

	for i := 0; i < 10; i++ {
		MustNil(t, p.Trigger())
	}
	time.Sleep(10 * time.Millisecond)
	MustNil(t, p.Trigger())

	MustNil(t, p.Close())
	err = <-stop
	MustNil(t, err)
}

func TestPollOneShot(t *testing.T) {
	var rn, wn, hn int32
	var read = func(p Poll) error {
		atomic.AddInt32(&rn, 1)
		return nil
	}
	var write = func(p Poll) error {
		atomic.AddInt32(&wn, 1)
		return nil
	}
	var hup = func(p Poll) error {
		atomic.AddInt32(&hn, 1)
		return nil
	}
	var stop = make(chan error)
	p, err := openDefaultPoll()
	MustNil(t, err)
	go func() {
		stop <- p.Wait()
	}()

	var rfd, wfd = GetSysFdPairs()
	defer unix.Close(rfd)
	var rop = &FDOperator{FD: rfd, OnRead: read, OnWrite: write, OnHup: hup}
	var wop = &FDOperator{FD: wfd, OnRead: read, OnWrite: write, OnHup: hup}
	var r, w, h int32

	// nothing to read yet
	err = p.Control(rop, PollReadable)
	MustNil(t, err)
	time.Sleep(20 * time.Millisecond)
	r, w, h = atomic.LoadInt32(&rn), atomic.LoadInt32(&wn), atomic.LoadInt32(&hn)
	Assert(t, r == 0 && w == 0 && h == 0, r, w, h)

	// fires once, then stays quiet until armed again
	err = p.Control(wop, PollWritable)
	MustNil(t, err)
	Equal(t, waitCount(&wn, 1), int32(1))
	time.Sleep(20 * time.Millisecond)
	Equal(t, atomic.LoadInt32(&wn), int32(1))
	err = p.Control(wop, PollWritable)
	MustNil(t, err)
	Equal(t, waitCount(&wn, 2), int32(2))

	// readable
	_, err = unix.Write(wfd, []byte("hello"))
	MustNil(t, err)
	Equal(t, waitCount(&rn, 1), int32(1))
	_, err = unix.Write(wfd, []byte("hello"))
	MustNil(t, err)
	time.Sleep(20 * time.Millisecond)
	Equal(t, atomic.LoadInt32(&rn), int32(1))
	// bytes still pending fire again once armed
	err = p.Control(rop, PollReadable)
	MustNil(t, err)
	Equal(t, waitCount(&rn, 2), int32(2))

	// the peer close is reported as readiness to an armed operator
	var buf = make([]byte, 16)
	n, _ := unix.Read(rfd, buf)
	Equal(t, n, 10)
	err = p.Control(rop, PollReadable)
	MustNil(t, err)
	time.Sleep(20 * time.Millisecond)
	Equal(t, atomic.LoadInt32(&rn), int32(2))
	MustNil(t, p.Control(wop, PollDetach))
	err = unix.Close(wfd)
	MustNil(t, err)
	Equal(t, waitCount(&rn, 3), int32(3))
	Equal(t, atomic.LoadInt32(&hn), int32(0))

	MustNil(t, p.Control(rop, PollDetach))
	p.Close()
	err = <-stop
	MustNil(t, err)
}

func TestPollListen(t *testing.T) {
	var rn, hn int32
	var stop = make(chan error)
	p, err := openDefaultPoll()
	MustNil(t, err)
	go func() {
		stop <- p.Wait()
	}()

	var rfd, wfd = GetSysFdPairs()
	var buf = make([]byte, 16)
	var op = &FDOperator{FD: rfd}
	op.OnRead = func(p Poll) error {
		atomic.AddInt32(&rn, 1)
		unix.Read(rfd, buf)
		return nil
	}
	op.OnHup = func(p Poll) error {
		atomic.AddInt32(&hn, 1)
		return nil
	}
	err = p.Control(op, PollListen)
	MustNil(t, err)

	// level-triggered interest stays armed
	for i := int32(1); i <= 3; i++ {
		_, err = unix.Write(wfd, []byte("ping"))
		MustNil(t, err)
		Equal(t, waitCount(&rn, i), i)
	}

	err = unix.Close(wfd)
	MustNil(t, err)
	Equal(t, waitCount(&hn, 1), int32(1))
	// the hang-up detached the operator, it is reported once
	time.Sleep(50 * time.Millisecond)
	Equal(t, atomic.LoadInt32(&hn), int32(1))
	MustTrue(t, p.getOperator(rfd) == nil)
	MustTrue(t, !op.isRegistered())
	unix.Close(rfd)

	p.Close()
	err = <-stop
	MustNil(t, err)
}

func TestPollClose(t *testing.T) {
	p, err := openDefaultPoll()
	MustNil(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		p.Wait()
		wg.Done()
	}()
	p.Close()
	wg.Wait()
}

func BenchmarkPollMod(b *testing.B) {
	b.StopTimer()
	p, _ := openDefaultPoll()
	defer p.Close()
	r, _ := GetSysFdPairs()
	var operator = &FDOperator{FD: r}
	p.Control(operator, PollReadable)

	// benchmark
	b.ReportAllocs()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		p.Control(operator, PollReadable)
	}
}
