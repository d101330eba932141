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
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
)

// Handler serves one request by filling resp.
// The request Body streams the inbound entity, what the handler leaves unread is discarded.
// A returned error or a panic is answered with 500 and the connection is closed.
type Handler func(ctx context.Context, req *Request, resp *Response) error

// NewServer returns an EventLoop serving HTTP/1.x requests with handler.
func NewServer(handler Handler, ops ...Option) (EventLoop, error) {
	if handler == nil {
		return nil, errors.New("netway: nil handler")
	}
	opts := &options{}
	for _, do := range ops {
		do.f(opts)
	}
	s := &httpServer{handler: handler, opts: opts}
	opts.onRequest = s.onRequest
	return &eventLoop{
		opts: opts,
		stop: make(chan error, 1),
	}, nil
}

type httpServer struct {
	handler Handler
	opts    *options
}

var continueLine = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// onRequest serves one message of the connection.
func (s *httpServer) onRequest(ctx context.Context, conn Connection) error {
	in, out := conn.Inbound(), conn.Outbound()
	req, err := in.readRequest(true)
	if err != nil {
		switch {
		case err == errWouldBlock:
			return nil
		case err == io.EOF, errors.Is(err, ErrConnClosed), errors.Is(err, ErrEOF):
		case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnexpectedEOF):
			logger.Printf("NETWAY: bad request from %v: %v", conn.RemoteAddr(), err)
			s.reject(out, StatusBadRequest)
		default:
			logger.Printf("NETWAY: read request from %v failed: %v", conn.RemoteAddr(), err)
		}
		return conn.Close()
	}

	if req.ProtoMinor >= 1 && req.ContentLength != 0 && req.Header.hasToken("Expect", "100-continue") {
		if _, err = out.Write(continueLine); err == nil {
			err = out.Flush()
		}
		if err != nil {
			return conn.Close()
		}
	}

	resp := &Response{Request: req, Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1}
	resp.SetStatus(StatusOK)
	resp.close = req.close || s.opts.noKeepAlive
	if err = s.handle(ctx, req, resp); err != nil {
		logger.Printf("NETWAY: handle %s %s failed: %v", req.Method, req.Target, err)
		resp.Entity.Release()
		resp = &Response{Request: req, Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1, close: true}
		resp.SetStatus(StatusInternalServerError)
	}
	if s.opts.rangeService {
		applyRange(req, resp)
	}
	if err = out.WriteResponse(resp, req.Method == "HEAD"); err != nil {
		logger.Printf("NETWAY: write response to %v failed: %v", conn.RemoteAddr(), err)
		return conn.Close()
	}
	if resp.close {
		return conn.Close()
	}
	// the next message starts after the whole entity
	if err = in.Complete(); err != nil {
		logger.Printf("NETWAY: discard request body from %v failed: %v", conn.RemoteAddr(), err)
		return conn.Close()
	}
	return nil
}

func (s *httpServer) handle(ctx context.Context, req *Request, resp *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.handler(ctx, req, resp)
}

// reject answers a message that could not be read, the connection is closed after it.
func (s *httpServer) reject(out *OutboundWay, code int) {
	resp := &Response{Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1, close: true}
	resp.SetStatus(code)
	if err := out.WriteResponse(resp, false); err != nil {
		logger.Printf("NETWAY: write %d response failed: %v", code, err)
	}
}

// applyRange turns a 200 response into a partial one when the request asks a single byte range
// of an entity of known size. Other range requests get the full entity.
func applyRange(req *Request, resp *Response) {
	e := resp.Entity
	if resp.StatusCode != StatusOK || e == nil || e.Range != nil || e.Size < 0 {
		return
	}
	if req.Method != "GET" && req.Method != "HEAD" {
		return
	}
	if !resp.Header.Has(HeaderAcceptRanges) {
		resp.Header.Set(HeaderAcceptRanges, "bytes")
	}
	ranges, err := req.Ranges()
	if err != nil || len(ranges) != 1 {
		return
	}
	rng := ranges[0]
	if !rng.Satisfiable(e.Size) {
		e.Release()
		resp.Entity = nil
		resp.SetStatus(StatusRequestedRangeNotSatisfiable)
		resp.Header.Set(HeaderContentRange, "bytes */"+strconv.FormatInt(e.Size, 10))
		return
	}
	e.Range = &rng
	resp.SetStatus(StatusPartialContent)
	resp.Header.Set(HeaderContentRange, rng.ContentRange(e.Size))
}
