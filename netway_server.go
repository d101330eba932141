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
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
)

// newServer wrap listener into server, quit will be invoked when server exit.
func newServer(ln Listener, opts *options, onQuit func(err error)) *server {
	return &server{
		ln:     ln,
		opts:   opts,
		onQuit: onQuit,
	}
}

type server struct {
	operator    *FDOperator
	ln          Listener
	opts        *options
	onQuit      func(err error)
	quitOnce    sync.Once
	connections sync.Map // key=fd, value=connection
}

// Run this server.
func (s *server) Run() (err error) {
	if _, ok := s.ln.(*listener); !ok {
		return Exception(ErrUnsupported, "listener not created by netway")
	}
	poll, err := pollmanager.Pick()
	if err != nil {
		return err
	}
	s.operator = poll.Alloc()
	s.operator.FD = s.ln.Fd()
	s.operator.OnRead = s.OnRead
	s.operator.OnHup = s.OnHup
	if err = s.operator.Control(PollListen); err != nil {
		s.operator.Free()
	}
	return err
}

// Close this server with deadline.
func (s *server) Close(ctx context.Context) error {
	if s.operator != nil {
		s.operator.Control(PollDetach)
		s.operator.Free()
	}
	s.ln.Close()

	for {
		activeConn := 0
		s.connections.Range(func(key, value interface{}) bool {
			conn, ok := value.(gracefulExit)
			if !ok || conn.isIdle() {
				value.(Connection).Close()
			} else {
				activeConn++
			}
			return true
		})
		if activeConn == 0 { // all connections have been closed
			return nil
		}

		// smart control graceful shutdown check internal
		// we should wait for more time if there are more active connections
		waitTime := time.Millisecond * time.Duration(activeConn)
		if waitTime > time.Second { // max wait time is 1000 ms
			waitTime = time.Millisecond * 1000
		} else if waitTime < time.Millisecond*50 { // min wait time is 50 ms
			waitTime = time.Millisecond * 50
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			continue
		}
	}
}

func (s *server) quit(err error) {
	s.quitOnce.Do(func() {
		s.onQuit(err)
	})
}

// OnRead implements FDOperator.
func (s *server) OnRead(p Poll) error {
	ln := s.ln.(*listener)
	nfd, err := ln.accept()
	if err == nil {
		if nfd != nil {
			s.onAccept(nfd)
		}
		// EAGAIN | EWOULDBLOCK if conn and err both nil
		return nil
	}

	// delay accept when too many open files
	if isOutOfFdErr(err) {
		logger.Printf("NETWAY: accept conn failed: %v", err)
		// the listener is level triggered, detach it until fds are available again
		if cerr := s.operator.Control(PollDetach); cerr != nil {
			logger.Printf("NETWAY: detach listener fd failed: %v", cerr)
			return err
		}
		go s.reaccept(ln)
		return err
	}

	// shut down
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EBADF) || errors.Is(err, syscall.EINVAL) {
		s.operator.Control(PollDetach)
		s.quit(err)
		return err
	}
	logger.Printf("NETWAY: accept conn failed: %v", err)
	return err
}

func (s *server) reaccept(ln *listener) {
	retryTimes := []time.Duration{0, 10, 50, 100, 200, 500, 1000} // ms
	retryTimeIndex := 0
	for {
		if retryTimeIndex > 0 {
			time.Sleep(retryTimes[retryTimeIndex] * time.Millisecond)
		}
		nfd, err := ln.accept()
		if err == nil {
			if nfd == nil {
				// recovery accept poll loop
				s.operator.Control(PollListen)
				return
			}
			s.onAccept(nfd)
			logger.Println("NETWAY: re-accept conn success:", nfd.RemoteAddr())
			retryTimeIndex = 0
			continue
		}
		if !isOutOfFdErr(err) {
			s.quit(err)
			return
		}
		if retryTimeIndex+1 < len(retryTimes) {
			retryTimeIndex++
		}
		logger.Printf("NETWAY: re-accept conn failed, err=[%s] and next retrytime=%dms", err.Error(), retryTimes[retryTimeIndex])
	}
}

// OnHup implements FDOperator.
func (s *server) OnHup(p Poll) error {
	s.quit(errors.New("listener close"))
	return nil
}

func (s *server) onAccept(nfd *netFD) {
	// store & register connection
	nconn := new(connection)
	if err := nconn.init(nfd, s.opts); err != nil {
		logger.Printf("NETWAY: init accepted conn failed: %v", err)
		return
	}
	if !nconn.IsActive() {
		return
	}
	fd := nfd.Fd()
	nconn.AddCloseCallback(func(connection Connection) error {
		s.connections.Delete(fd)
		return nil
	})
	s.connections.Store(fd, nconn)

	// trigger onConnect asynchronously
	nconn.onConnect()
}

func isOutOfFdErr(err error) bool {
	se, ok := err.(syscall.Errno)
	return ok && (se == syscall.EMFILE || se == syscall.ENFILE)
}
