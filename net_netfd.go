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
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// netFD is a non-blocking socket, it is the ReadableChannel and
// WritableChannel the ways fill from and drain to.
type netFD struct {
	fd         int
	closed     uint32
	network    string
	localAddr  net.Addr
	remoteAddr net.Addr
}

func newNetFD(fd int, network string, laddr, raddr net.Addr) *netFD {
	return &netFD{fd: fd, network: network, localAddr: laddr, remoteAddr: raddr}
}

// Read performs one non-blocking read.
// It returns 0, nil when no byte is ready and io.EOF once the peer has closed.
func (c *netFD) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err = unix.Read(c.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		}
		return 0, err
	}
}

// Write performs one non-blocking write.
// It returns 0, nil when the socket send buffer is full.
func (c *netFD) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err = unix.Write(c.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		}
		return 0, err
	}
}

// Close closes the fd once.
func (c *netFD) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	return unix.Close(c.fd)
}

// shutdownWrite half-closes the connection.
func (c *netFD) shutdownWrite() error {
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

func (c *netFD) Fd() int {
	return c.fd
}

func (c *netFD) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *netFD) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// setNoDelay disables Nagle on tcp sockets, the ways already write whole buffers.
func (c *netFD) setNoDelay() error {
	switch c.network {
	case "tcp", "tcp4", "tcp6":
		return unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	return nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port, Zone: zone}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	}
	return nil
}

func addrToSockaddr(network string, addr net.Addr) (unix.Sockaddr, int, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if ip4 := a.IP.To4(); ip4 != nil && network != "tcp6" {
			sa := &unix.SockaddrInet4{Port: a.Port}
			copy(sa.Addr[:], ip4)
			return sa, unix.AF_INET, nil
		}
		if a.IP == nil && network != "tcp6" {
			return &unix.SockaddrInet4{Port: a.Port, Addr: [4]byte{127, 0, 0, 1}}, unix.AF_INET, nil
		}
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP.To16())
		if a.Zone != "" {
			if ifi, err := net.InterfaceByName(a.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, unix.AF_INET6, nil
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: a.Name}, unix.AF_UNIX, nil
	}
	return nil, 0, Exception(ErrUnsupported, "address "+addr.String())
}
