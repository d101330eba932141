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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// OutboundWay sends messages on a connection.
//
// Bytes flow entity -> codec -> buffer -> socket. A full buffer is drained to
// the socket before more entity bytes are pulled, and a socket that accepts
// nothing parks the writer on the connection's write trigger.
type OutboundWay struct {
	way
	chunkSize int
}

func newOutboundWay(c *connection, size, chunkSize int) *OutboundWay {
	w := &OutboundWay{chunkSize: chunkSize}
	w.init(c, size)
	return w
}

// Buffered returns the number of bytes waiting to be flushed.
func (w *OutboundWay) Buffered() int {
	if w.buffer == nil {
		return 0
	}
	return w.buffer.Len()
}

// Write copies p into the buffer, flushing it to the socket each time it fills up.
// Bytes may stay in the buffer until Flush.
func (w *OutboundWay) Write(p []byte) (n int, err error) {
	if err = w.acquire(); err != nil {
		return 0, err
	}
	defer w.conn.unlock(flushing)
	return w.write(p)
}

// WriteString is Write for strings.
func (w *OutboundWay) WriteString(s string) (n int, err error) {
	if err = w.acquire(); err != nil {
		return 0, err
	}
	defer w.conn.unlock(flushing)
	return w.writeString(s)
}

// Flush sends every buffered byte, blocking while the socket is saturated.
func (w *OutboundWay) Flush() error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.conn.unlock(flushing)
	return w.flush()
}

func (w *OutboundWay) writeFlush(p []byte) (n int, err error) {
	if err = w.acquire(); err != nil {
		return 0, err
	}
	defer w.conn.unlock(flushing)
	if n, err = w.write(p); err != nil {
		return n, err
	}
	return n, w.flush()
}

func (w *OutboundWay) acquire() error {
	if !w.conn.IsActive() {
		return Exception(ErrConnClosed, "when write")
	}
	return w.conn.acquire(flushing, "write")
}

// write must be called with flushing held.
func (w *OutboundWay) write(p []byte) (n int, err error) {
	b := w.buffer
	for n < len(p) {
		b.BeforeFill()
		if !b.CanFill() {
			if err = w.flush(); err != nil {
				return n, err
			}
			continue
		}
		m, _ := b.Fill(p[n:])
		n += m
	}
	return n, nil
}

func (w *OutboundWay) writeString(s string) (n int, err error) {
	b := w.buffer
	for n < len(s) {
		b.BeforeFill()
		if !b.CanFill() {
			if err = w.flush(); err != nil {
				return n, err
			}
			continue
		}
		m, _ := b.FillString(s[n:])
		n += m
	}
	return n, nil
}

// flush must be called with flushing held.
func (w *OutboundWay) flush() error {
	b := w.buffer
	b.BeforeDrain()
	for b.CanDrain() {
		w.setIoState(IoProcessing)
		n, err := b.DrainTo(&w.conn.netFD)
		if err != nil {
			w.setIoState(IoCancelled)
			return Exception(err, "when flush")
		}
		if n == 0 {
			if err = w.waitIo(w.conn.waitWritable); err != nil {
				return err
			}
		}
	}
	b.BeforeFill()
	w.setIoState(IoIdle)
	return nil
}

// sink writes into the buffer without taking the lock, codecs write through it.
type sink struct {
	w *OutboundWay
}

func (s sink) Write(p []byte) (int, error) {
	return s.w.write(p)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// WriteRequest sends req with its Entity.
// An entity of unknown size is sent chunked, which HTTP/1.0 does not allow.
func (w *OutboundWay) WriteRequest(req *Request) (err error) {
	if err = w.acquire(); err != nil {
		req.Entity.Release()
		return err
	}
	defer w.conn.unlock(flushing)

	h := req.Header.Clone()
	h.Del(HeaderContentLength)
	h.Del(HeaderTransferEncoding)
	e := req.Entity
	size := e.AvailableSize()
	var chunked bool
	switch {
	case e == nil:
		if req.Method == "POST" || req.Method == "PUT" || req.Method == "PATCH" {
			h.Set(HeaderContentLength, "0")
		}
	case size >= 0:
		h.Set(HeaderContentLength, strconv.FormatInt(size, 10))
	case req.ProtoMajor == 1 && req.ProtoMinor == 0:
		e.Release()
		return Exception(ErrContentLength, "unknown entity size in a HTTP/1.0 request")
	default:
		chunked = true
		h.Set(HeaderTransferEncoding, "chunked")
	}
	if e != nil && e.MediaType != "" && !h.Has(HeaderContentType) {
		h.Set(HeaderContentType, e.MediaType)
	}
	req.close = req.close || h.hasToken(HeaderConnection, "close")
	start := req.Method + " " + req.Target + " " + req.Proto
	if err = w.writeHead(start, h); err != nil {
		e.Release()
		return err
	}
	return w.writeBody(e, size, chunked, false)
}

// WriteResponse sends resp.
//
// Framing is fixed before the first body byte: a known size is sent with
// Content-Length, an unknown one chunked when the peer speaks HTTP/1.1 and
// delimited by the connection close otherwise. headOnly sends the framing
// headers without the entity, as a reply to HEAD.
func (w *OutboundWay) WriteResponse(resp *Response, headOnly bool) (err error) {
	if err = w.acquire(); err != nil {
		resp.Entity.Release()
		return err
	}
	defer w.conn.unlock(flushing)

	h := resp.Header.Clone()
	h.Del(HeaderContentLength)
	h.Del(HeaderTransferEncoding)
	e := resp.Entity
	size := e.AvailableSize()
	closeConn := resp.close
	var chunked bool
	switch {
	case !bodyAllowed(resp.StatusCode):
		e.Release()
		e, size = nil, 0
	case size >= 0:
		h.Set(HeaderContentLength, strconv.FormatInt(size, 10))
	case resp.Request == nil || resp.Request.ProtoMinor >= 1:
		chunked = true
		h.Set(HeaderTransferEncoding, "chunked")
	default:
		closeConn = true
	}
	if e != nil && e.MediaType != "" && !h.Has(HeaderContentType) {
		h.Set(HeaderContentType, e.MediaType)
	}
	if closeConn {
		h.Set(HeaderConnection, "close")
	} else if resp.Request != nil && resp.Request.ProtoMinor == 0 {
		h.Set(HeaderConnection, "keep-alive")
	}
	resp.close = closeConn

	reason := resp.Reason
	if reason == "" {
		reason = StatusText(resp.StatusCode)
	}
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(strconv.Itoa(resp.StatusCode))
	sb.WriteByte(' ')
	sb.WriteString(reason)
	if err = w.writeHead(sb.String(), h); err != nil {
		e.Release()
		return err
	}
	return w.writeBody(e, size, chunked, headOnly)
}

func (w *OutboundWay) writeHead(start string, h Header) error {
	if strings.ContainsAny(start, "\r\n") {
		return Exception(ErrMalformedMessage, fmt.Sprintf("invalid start line %q", start))
	}
	if err := h.validate(); err != nil {
		return err
	}
	w.setMessageState(MessageStart)
	line, err := encodeLatin1(start + "\r\n")
	if err != nil {
		return err
	}
	if _, err = w.write(line); err != nil {
		return err
	}
	w.setMessageState(MessageHeaders)
	if _, err = h.WriteTo(sink{w}); err != nil {
		return err
	}
	_, err = w.write(bytesCRLF)
	trace(w.conn, "outbound head %q", start)
	return err
}

func (w *OutboundWay) writeBody(e *Entity, size int64, chunked, headOnly bool) (err error) {
	defer w.setMessageState(MessageIdle)
	if e != nil && !headOnly {
		w.setMessageState(MessageBody)
		var dst io.WriteCloser
		switch {
		case chunked:
			dst = NewChunkedWriter(sink{w}, w.chunkSize)
		case size >= 0:
			dst = NewSizedWriter(sink{w}, size)
		default:
			dst = nopWriteCloser{sink{w}}
		}
		_, err = io.Copy(dst, e.Reader())
		if err == nil {
			err = dst.Close()
		}
	}
	if rerr := e.Release(); err == nil && rerr != nil {
		err = rerr
	}
	if err != nil {
		return err
	}
	w.setMessageState(MessageEnd)
	return w.flush()
}
