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

//go:build linux

package netway

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
)

// DialVSock dials a virtio socket of a hypervisor or guest.
func DialVSock(contextID, port uint32, timeout time.Duration) (Connection, error) {
	ctx := context.Background()
	if timeout > 0 {
		subCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = subCtx
	}
	return dialVSock(ctx, contextID, port, nil)
}

// dialVSockAddress dials "cid:port".
func dialVSockAddress(ctx context.Context, address string, opts *options) (Connection, error) {
	cid, port, ok := strings.Cut(address, ":")
	if !ok {
		return nil, &net.AddrError{Err: "missing port in address", Addr: address}
	}
	c, err := strconv.ParseUint(cid, 10, 32)
	if err != nil {
		return nil, &net.AddrError{Err: "invalid context id", Addr: address}
	}
	p, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		return nil, &net.AddrError{Err: "invalid port", Addr: address}
	}
	return dialVSock(ctx, uint32(c), uint32(p), opts)
}

func dialVSock(ctx context.Context, cid, port uint32, opts *options) (Connection, error) {
	sa := &unix.SockaddrVM{CID: cid, Port: port}
	nfd, err := connectSocket(ctx, unix.AF_VSOCK, "vsock", sa)
	if err != nil {
		return nil, err
	}
	nfd.remoteAddr = &vsock.Addr{ContextID: cid, Port: port}
	if local, err := vsock.ContextID(); err == nil {
		nfd.localAddr = &vsock.Addr{ContextID: local}
	}
	conn := &connection{}
	if err = conn.init(nfd, opts); err != nil {
		return nil, err
	}
	return conn, nil
}
