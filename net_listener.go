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
	"errors"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Listener extends net.Listener with the listening fd, which the event loop polls.
type Listener interface {
	net.Listener

	// Fd return listener's fd, used by poll.
	Fd() (fd int)
}

// CreateListener return a new Listener.
func CreateListener(network, addr string) (Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return nil, net.UnknownNetworkError(network)
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return ConvertListener(l)
}

// ConvertListener converts net.Listener to Listener
func ConvertListener(l net.Listener) (nl Listener, err error) {
	if tmp, ok := l.(Listener); ok {
		return tmp, nil
	}
	ln := &listener{}
	ln.ln = l
	ln.addr = l.Addr()
	err = ln.parseFD()
	if err != nil {
		return nil, err
	}
	return ln, unix.SetNonblock(ln.fd, true)
}

var _ net.Listener = &listener{}

type listener struct {
	fd   int
	addr net.Addr     // listener's local addr
	ln   net.Listener // tcp|unix listener
	file *os.File

	// mu keeps Close from releasing fd while an accept is using it.
	mu     sync.RWMutex
	closed bool
}

// Accept implements net.Listener, the returned conn is a Connection
// registered on a poller with no request handler.
// It returns nil, nil when no connection is pending and net.ErrClosed once closed.
func (ln *listener) Accept() (net.Conn, error) {
	nfd, err := ln.accept()
	if nfd == nil || err != nil {
		return nil, err
	}
	conn := &connection{}
	if err = conn.init(nfd, nil); err != nil {
		return nil, err
	}
	return conn, nil
}

// accept takes one pending socket, nil when none is pending.
func (ln *listener) accept() (*netFD, error) {
	ln.mu.RLock()
	if ln.closed {
		ln.mu.RUnlock()
		return nil, net.ErrClosed
	}
	var fd, sa, err = accept(ln.fd)
	ln.mu.RUnlock()
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	raddr := sockaddrToAddr(sa)
	if raddr == nil {
		raddr = ln.addr
	}
	nfd := newNetFD(fd, ln.addr.Network(), ln.addr, raddr)
	if err = nfd.setNoDelay(); err != nil {
		logger.Printf("NETWAY: set nodelay fd=%d failed: %v", fd, err)
	}
	return nfd, nil
}

// Close implements Listener, fd is owned by file and closed through it only.
func (ln *listener) Close() error {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.closed {
		return nil
	}
	ln.closed = true
	ln.fd = -1
	if ln.file != nil {
		ln.file.Close()
	}
	if ln.ln != nil {
		ln.ln.Close()
	}
	return nil
}

// Addr implements Listener.
func (ln *listener) Addr() net.Addr {
	return ln.addr
}

// Fd implements Listener, it is -1 once closed.
func (ln *listener) Fd() (fd int) {
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.fd
}

func (ln *listener) parseFD() (err error) {
	switch netln := ln.ln.(type) {
	case *net.TCPListener:
		ln.file, err = netln.File()
	case *net.UnixListener:
		ln.file, err = netln.File()
	default:
		return errors.New("listener type can't support")
	}
	if err != nil {
		return err
	}
	ln.fd = int(ln.file.Fd())
	return nil
}
