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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package netway

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

func openPoll() (Poll, error) {
	return openDefaultPoll()
}

func openDefaultPoll() (*defaultPoll, error) {
	l := new(defaultPoll)
	p, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	l.fd = p
	var fds [2]int
	if err = unix.Pipe(fds[:]); err != nil {
		unix.Close(l.fd)
		return nil, err
	}
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	l.wakeR, l.wakeW = fds[0], fds[1]
	var ev unix.Kevent_t
	unix.SetKevent(&ev, l.wakeR, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err = unix.Kevent(l.fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(l.wakeR)
		unix.Close(l.wakeW)
		unix.Close(l.fd)
		return nil, err
	}
	l.opcache = newOperatorCache()
	return l, nil
}

type defaultPoll struct {
	fd        int
	wakeR     int // read end of the wakeup pipe
	wakeW     int
	trigger   uint32
	operators sync.Map       // fd -> *FDOperator
	opcache   *operatorCache // operator cache
	hups      []func(p Poll) error
}

// Wait implements Poll.
func (p *defaultPoll) Wait() error {
	var size = 1024
	var events = make([]unix.Kevent_t, size)
	var buf [64]byte
	for {
		n, err := unix.Kevent(p.fd, nil, events, nil)
		if err != nil && err != unix.EINTR {
			// exit gracefully
			if err == unix.EBADF {
				return nil
			}
			return err
		}
		for i := 0; i < n; i++ {
			var fd = int(events[i].Ident)
			// trigger
			if fd == p.wakeR {
				atomic.StoreUint32(&p.trigger, 0)
				var closed bool
				for {
					m, rerr := unix.Read(p.wakeR, buf[:])
					for j := 0; j < m; j++ {
						closed = closed || buf[j] > 0
					}
					if m <= 0 || rerr != nil {
						break
					}
				}
				if closed {
					unix.Close(p.wakeR)
					unix.Close(p.wakeW)
					unix.Close(p.fd)
					return nil
				}
				continue
			}
			var operator = p.getOperator(fd)
			if operator == nil || !operator.do() {
				continue
			}

			evt := events[i]
			triggerRead := evt.Filter == unix.EVFILT_READ
			triggerWrite := evt.Filter == unix.EVFILT_WRITE
			triggerHup := evt.Flags&unix.EV_EOF != 0

			if operator.level {
				if triggerRead && operator.OnRead != nil {
					operator.OnRead(p)
				}
				if triggerHup {
					p.appendHup(operator)
					continue
				}
				operator.done()
				continue
			}
			var ready uint32
			if triggerRead {
				ready |= interestRead
			}
			if triggerWrite {
				ready |= interestWrite
			}
			p.dispatch(operator, operator.fire(ready))
			operator.done()
		}
		// hup conns together to avoid blocking the poll.
		p.onhups()
		p.opcache.free()
	}
}

// Close wakes Wait up with the close marker.
func (p *defaultPoll) Close() error {
	_, err := unix.Write(p.wakeW, []byte{1})
	return err
}

// Trigger wakes Wait up once, extra calls before the wakeup is handled are merged.
func (p *defaultPoll) Trigger() error {
	if atomic.AddUint32(&p.trigger, 1) > 1 {
		return nil
	}
	_, err := unix.Write(p.wakeW, []byte{0})
	return err
}

// Control implements Poll.
// Read and write filters are independent on kqueue, so each one-shot interest
// is armed on its own filter.
func (p *defaultPoll) Control(operator *FDOperator, event PollEvent) error {
	var evs = make([]unix.Kevent_t, 1, 2)
	switch event {
	case PollListen:
		operator.inuse()
		operator.mu.Lock()
		operator.level, operator.registered = true, true
		operator.mu.Unlock()
		p.setOperator(operator)
		unix.SetKevent(&evs[0], operator.FD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	case PollReadable:
		operator.inuse()
		operator.mu.Lock()
		operator.interest |= interestRead
		operator.registered = true
		operator.mu.Unlock()
		p.setOperator(operator)
		unix.SetKevent(&evs[0], operator.FD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	case PollWritable:
		operator.inuse()
		operator.mu.Lock()
		operator.interest |= interestWrite
		operator.registered = true
		operator.mu.Unlock()
		p.setOperator(operator)
		unix.SetKevent(&evs[0], operator.FD, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	case PollDetach:
		p.delOperator(operator)
		operator.mu.Lock()
		interest, level := operator.interest, operator.level
		operator.interest, operator.registered = 0, false
		operator.mu.Unlock()
		// fired one-shot filters are already gone
		evs = evs[:0]
		if level || interest&interestRead != 0 {
			var ev unix.Kevent_t
			unix.SetKevent(&ev, operator.FD, unix.EVFILT_READ, unix.EV_DELETE)
			evs = append(evs, ev)
		}
		if interest&interestWrite != 0 {
			var ev unix.Kevent_t
			unix.SetKevent(&ev, operator.FD, unix.EVFILT_WRITE, unix.EV_DELETE)
			evs = append(evs, ev)
		}
		if len(evs) == 0 {
			return nil
		}
	}
	_, err := unix.Kevent(p.fd, evs, nil, nil)
	return err
}
