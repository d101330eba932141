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

	"golang.org/x/sys/unix"
)

const (
	epollRead  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
	epollWrite = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

func openPoll() (Poll, error) {
	return openDefaultPoll()
}

func openDefaultPoll() (*defaultPoll, error) {
	var poll = new(defaultPoll)
	poll.buf = make([]byte, 8)
	var p, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	poll.fd = p

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(poll.fd)
		return nil, err
	}
	poll.opcache = newOperatorCache()
	poll.wop = &FDOperator{FD: efd, poll: poll}
	if err = poll.Control(poll.wop, PollListen); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(poll.fd)
		return nil, err
	}
	return poll, nil
}

type defaultPoll struct {
	fd        int            // epoll fd
	wop       *FDOperator    // eventfd, wake epoll_wait
	buf       []byte         // read wfd trigger msg
	trigger   uint32         // trigger flag
	operators sync.Map       // fd -> *FDOperator
	opcache   *operatorCache // operator cache
	events    []unix.EpollEvent
	hups      []func(p Poll) error
}

// Wait implements Poll.
func (p *defaultPoll) Wait() (err error) {
	var msec, n = -1, 0
	p.events = make([]unix.EpollEvent, 128)
	for {
		if n == len(p.events) && len(p.events) < 128*1024 {
			p.events = make([]unix.EpollEvent, len(p.events)<<1)
		}
		n, err = unix.EpollWait(p.fd, p.events, msec)
		if err != nil && err != unix.EINTR {
			return err
		}
		if n <= 0 {
			msec = -1
			runtime.Gosched()
			continue
		}
		msec = 0
		if p.handler(p.events[:n]) {
			return nil
		}
		// we can make sure that there is no op remaining if handler finished
		p.opcache.free()
	}
}

func (p *defaultPoll) handler(events []unix.EpollEvent) (closed bool) {
	for i := range events {
		fd := int(events[i].Fd)
		evt := events[i].Events
		// trigger or exit gracefully
		if fd == p.wop.FD {
			// must clean trigger first
			unix.Read(p.wop.FD, p.buf)
			atomic.StoreUint32(&p.trigger, 0)
			// if closed & exit
			if p.buf[0] > 0 {
				unix.Close(p.wop.FD)
				unix.Close(p.fd)
				return true
			}
			continue
		}

		operator := p.getOperator(fd)
		if operator == nil || !operator.do() {
			continue
		}
		if operator.level {
			if evt&unix.EPOLLIN != 0 && operator.OnRead != nil {
				operator.OnRead(p)
			}
			if evt&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 {
				p.appendHup(operator)
				continue
			}
			operator.done()
			continue
		}

		var ready uint32
		if evt&epollRead != 0 {
			ready |= interestRead
		}
		if evt&epollWrite != 0 {
			ready |= interestWrite
		}
		p.dispatch(operator, p.fire(operator, ready))
		operator.done()
	}
	// hup conns together to avoid blocking the poll.
	p.onhups()
	return false
}

// Close will write 1 to the eventfd, making Wait exit gracefully.
func (p *defaultPoll) Close() error {
	_, err := unix.Write(p.wop.FD, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	return err
}

// Trigger wakes Wait up once, extra calls before the wakeup is handled are merged.
func (p *defaultPoll) Trigger() error {
	if atomic.AddUint32(&p.trigger, 1) > 1 {
		return nil
	}
	// MAX(eventfd) = 0xfffffffffffffffe
	_, err := unix.Write(p.wop.FD, []byte{0, 0, 0, 0, 0, 0, 0, 1})
	return err
}

// Control implements Poll.
func (p *defaultPoll) Control(operator *FDOperator, event PollEvent) error {
	switch event {
	case PollListen:
		operator.inuse()
		operator.mu.Lock()
		operator.level, operator.registered = true, true
		operator.mu.Unlock()
		if operator != p.wop {
			p.setOperator(operator)
		}
		var evt = unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLERR, Fd: int32(operator.FD)}
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, operator.FD, &evt)
	case PollReadable, PollWritable:
		bits := interestRead
		if event == PollWritable {
			bits = interestWrite
		}
		operator.inuse()
		operator.mu.Lock()
		defer operator.mu.Unlock()
		operator.interest |= bits
		if !operator.registered {
			operator.registered = true
			p.setOperator(operator)
			return p.ctl(operator, unix.EPOLL_CTL_ADD, operator.interest)
		}
		return p.ctl(operator, unix.EPOLL_CTL_MOD, operator.interest)
	case PollDetach:
		p.delOperator(operator)
		operator.mu.Lock()
		operator.interest, operator.registered = 0, false
		operator.mu.Unlock()
		var evt unix.EpollEvent
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, operator.FD, &evt)
	}
	return nil
}

// fire clears the interest satisfied by ready and re-arms the rest,
// one-shot having disarmed the whole fd.
func (p *defaultPoll) fire(operator *FDOperator, ready uint32) (fired uint32) {
	operator.mu.Lock()
	defer operator.mu.Unlock()
	fired = operator.interest & ready
	operator.interest &^= fired
	if operator.interest != 0 {
		if err := p.ctl(operator, unix.EPOLL_CTL_MOD, operator.interest); err != nil {
			logger.Printf("NETWAY: poller rearm fd=%d failed: %v", operator.FD, err)
		}
	}
	return fired
}

func (p *defaultPoll) ctl(operator *FDOperator, op int, interest uint32) error {
	var evt = unix.EpollEvent{Events: unix.EPOLLONESHOT | unix.EPOLLRDHUP, Fd: int32(operator.FD)}
	if interest&interestRead != 0 {
		evt.Events |= unix.EPOLLIN
	}
	if interest&interestWrite != 0 {
		evt.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.fd, op, operator.FD, &evt)
}
