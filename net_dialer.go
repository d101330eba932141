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
	"time"

	skt "github.com/mdlayher/socket"
	"golang.org/x/sys/unix"
)

// Dialer extends net.Dialer's ability to create Connection.
type Dialer interface {
	// DialConnection is used to dial the peer end.
	DialConnection(network, address string, timeout time.Duration) (connection Connection, err error)

	// DialTimeout is compatible with net.Dialer.DialTimeout.
	DialTimeout(network, address string, timeout time.Duration) (conn net.Conn, err error)
}

// DialConnection is a default implementation of Dialer.
func DialConnection(network, address string, timeout time.Duration) (connection Connection, err error) {
	return defaultDialer.DialConnection(network, address, timeout)
}

// NewDialer supports TCP, unix socket and, on linux, vsock addressed as "cid:port".
// Options set the timeouts and buffer sizes of the dialed connections.
func NewDialer(ops ...Option) Dialer {
	return newDialer(ops...)
}

func newDialer(ops ...Option) *dialer {
	opts := &options{}
	for _, do := range ops {
		do.f(opts)
	}
	return &dialer{opts: opts}
}

var defaultDialer = NewDialer()

var errMissingAddress = errors.New("missing address")

type dialer struct {
	opts *options
}

// DialTimeout implements Dialer.
func (d *dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return d.DialConnection(network, address, timeout)
}

// DialConnection implements Dialer.
func (d *dialer) DialConnection(network, address string, timeout time.Duration) (connection Connection, err error) {
	ctx := context.Background()
	if timeout > 0 {
		subCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = subCtx
	}
	return d.dialContext(ctx, network, address)
}

func (d *dialer) dialContext(ctx context.Context, network, address string) (Connection, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return d.dialTCP(ctx, network, address)
	case "unix":
		return dialSocket(ctx, network, &net.UnixAddr{Name: address, Net: network}, d.opts)
	case "vsock":
		return dialVSockAddress(ctx, address, d.opts)
	}
	return nil, net.UnknownNetworkError(network)
}

func (d *dialer) dialTCP(ctx context.Context, network, address string) (Connection, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	var portnum int
	if portnum, err = net.DefaultResolver.LookupPort(ctx, network, port); err != nil {
		return nil, err
	}
	var ipaddrs []net.IPAddr
	// host maybe empty if address is ":1234"
	if host == "" {
		ipaddrs = []net.IPAddr{{}}
	} else {
		ipaddrs, err = net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ipaddrs) == 0 {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
	}

	var firstErr error // The error from the first address is most relevant.
	for _, ipaddr := range ipaddrs {
		raddr := &net.TCPAddr{IP: ipaddr.IP, Port: portnum, Zone: ipaddr.Zone}
		conn, err := dialSocket(ctx, network, raddr, d.opts)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done(): // check timeout error
			return nil, err
		default:
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = &net.OpError{Op: "dial", Net: network, Source: nil, Addr: nil, Err: errMissingAddress}
	}
	return nil, firstErr
}

// dialSocket connects a non-blocking socket to raddr and wraps it in a Connection.
func dialSocket(ctx context.Context, network string, raddr net.Addr, opts *options) (Connection, error) {
	sa, family, err := addrToSockaddr(network, raddr)
	if err != nil {
		return nil, err
	}
	nfd, err := connectSocket(ctx, family, network, sa)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Addr: raddr, Err: err}
	}
	if nfd.remoteAddr == nil {
		nfd.remoteAddr = raddr
	}
	if err = nfd.setNoDelay(); err != nil {
		logger.Printf("NETWAY: set nodelay fd=%d failed: %v", nfd.fd, err)
	}
	conn := &connection{}
	if err = conn.init(nfd, opts); err != nil {
		return nil, err
	}
	return conn, nil
}

// connectSocket runs a context aware connect, then takes its own copy of the fd
// so that the event loop polls it instead of the runtime netpoller.
func connectSocket(ctx context.Context, family int, network string, sa unix.Sockaddr) (*netFD, error) {
	c, err := skt.Socket(family, unix.SOCK_STREAM, 0, network, nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if _, err = c.Connect(ctx, sa); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, Exception(ErrDialTimeout, err.Error())
		}
		return nil, err
	}
	var laddr, raddr net.Addr
	if lsa, err := c.Getsockname(); err == nil {
		laddr = sockaddrToAddr(lsa)
	}
	// the peer address is the resolved one, ":80" dials end up on a real host
	if rsa, err := c.Getpeername(); err == nil {
		if ua, ok := rsa.(*unix.SockaddrUnix); !ok || ua.Name != "" {
			raddr = sockaddrToAddr(rsa)
		}
	}
	fd, err := dupSocket(c)
	if err != nil {
		return nil, err
	}
	return newNetFD(fd, network, laddr, raddr), nil
}

func dupSocket(c *skt.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var derr error
	if err = rc.Control(func(sysfd uintptr) {
		fd, derr = unix.Dup(int(sysfd))
	}); err != nil {
		return -1, err
	}
	if derr != nil {
		return -1, derr
	}
	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
