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
	"io"
	"sync"
)

// Client sends one request per connection and streams the response entity.
type Client struct {
	dialer *dialer
}

// NewClient returns a Client whose connections are set up with ops.
func NewClient(ops ...Option) *Client {
	return &Client{dialer: newDialer(ops...)}
}

// Do dials address, sends req and reads the response head.
// The connection is closed when the response Body is closed, or when ctx is done.
func (cl *Client) Do(ctx context.Context, network, address string, req *Request) (*Response, error) {
	if req.Proto == "" {
		req.Proto, req.ProtoMajor, req.ProtoMinor = "HTTP/1.1", 1, 1
	}
	if !req.Header.Has(HeaderHost) && network != "unix" {
		req.Header.Set(HeaderHost, address)
	}
	conn, err := cl.dialer.dialContext(ctx, network, address)
	if err != nil {
		req.Entity.Release()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	fail := func(err error) (*Response, error) {
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err = conn.Outbound().WriteRequest(req); err != nil {
		return fail(err)
	}
	resp, err := conn.Inbound().ReadResponse(req.Method)
	if err != nil {
		return fail(err)
	}
	resp.Request = req
	resp.Body = &clientBody{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

// clientBody closes the connection along with the entity.
type clientBody struct {
	io.ReadCloser
	conn Connection
	stop func() bool
	once sync.Once
}

func (b *clientBody) Close() error {
	b.once.Do(func() {
		b.stop()
		b.ReadCloser.Close()
		b.conn.Close()
	})
	return nil
}

// Trailer returns the trailer of a chunked entity once it has been read.
func (b *clientBody) Trailer() Header {
	return trailerOf(b.ReadCloser)
}
