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
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxHeadSize bounds the start line plus the header lines of a message.
const maxHeadSize = 64 * 1024

// errWouldBlock is returned when an idle way has no byte of a next message yet.
var errWouldBlock = errors.New("netway: no message available")

// InboundWay receives messages on a connection.
//
// The head is parsed out of the buffer with non-blocking fills. The body is
// exposed as an io.ReadCloser whose reads drain the buffer, waiting on the
// connection's read trigger whenever the socket has nothing to offer.
type InboundWay struct {
	way
	line      []byte
	lineState BufferState
	start     string
	headBytes int
	eof       bool
	blocked   bool
	body      *inboundBody
}

var (
	_ BufferProcessor = &InboundWay{}
	_ io.Reader       = &InboundWay{}
	_ io.ByteReader   = &InboundWay{}
)

func newInboundWay(c *connection, size int) *InboundWay {
	w := &InboundWay{}
	w.init(c, size)
	return w
}

// Buffered returns the number of received bytes not read yet.
func (w *InboundWay) Buffered() int {
	if w.buffer == nil {
		return 0
	}
	return w.buffer.Len()
}

// Read reads raw connection bytes, blocking until at least one is available.
// It returns io.EOF once the peer has closed and every byte has been read.
func (w *InboundWay) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err = w.acquire(); err != nil {
		return 0, err
	}
	defer w.conn.unlock(reading)
	if err = w.fill(); err != nil {
		return 0, err
	}
	return w.buffer.Drain(p), nil
}

// ReadByte implements io.ByteReader, it lets the chunk decoder read size lines
// without consuming bytes past them.
func (w *InboundWay) ReadByte() (c byte, err error) {
	if err = w.acquire(); err != nil {
		return 0, err
	}
	defer w.conn.unlock(reading)
	if err = w.fill(); err != nil {
		return 0, err
	}
	c, _ = w.buffer.DrainByte()
	return c, nil
}

func (w *InboundWay) acquire() error {
	return w.conn.acquire(reading, "read")
}

// fill makes sure unread bytes are ready to drain, waiting for the socket if needed.
func (w *InboundWay) fill() error {
	b := w.buffer
	for {
		if b.CanDrain() {
			return nil
		}
		if b.CouldDrain() {
			b.BeforeDrain()
			continue
		}
		if w.eof {
			return io.EOF
		}
		b.BeforeFill()
		w.setIoState(IoProcessing)
		n, err := b.FillFrom(&w.conn.netFD)
		switch {
		case err == io.EOF:
			w.eof = true
		case err != nil:
			w.setIoState(IoCancelled)
			return Exception(err, "when read")
		case n == 0:
			if err = w.waitIo(w.conn.waitReadable); err != nil {
				return err
			}
		}
	}
}

// hasInput tells the task whether a message may be read without blocking.
// It never waits, a peer close found here closes the connection.
func (w *InboundWay) hasInput() bool {
	if w.Buffered() > 0 {
		return true
	}
	if !w.eof {
		if !w.conn.lock(reading) {
			return false
		}
		w.buffer.BeforeFill()
		n, err := w.buffer.FillFrom(&w.conn.netFD)
		w.conn.unlock(reading)
		if n > 0 {
			return true
		}
		if err == nil {
			return false
		}
		if err != io.EOF {
			logger.Printf("NETWAY: read from %s failed: %v", w.conn.remoteAddrString(), err)
		}
		w.eof = true
	}
	w.conn.onEOF()
	return false
}

// ------------------------------------------ head parsing ------------------------------------------

// CanLoop implements BufferProcessor.
func (w *InboundWay) CanLoop(b *Buffer, args ...interface{}) bool {
	return w.MessageState() < MessageBody && w.conn.IsActive()
}

// CouldFill implements BufferProcessor.
func (w *InboundWay) CouldFill(b *Buffer, args ...interface{}) bool {
	return !w.eof && !w.blocked
}

// OnFill implements BufferProcessor.
func (w *InboundWay) OnFill(b *Buffer, args ...interface{}) (int, error) {
	w.setIoState(IoProcessing)
	n, err := b.FillFrom(&w.conn.netFD)
	switch {
	case err == io.EOF:
		w.eof = true
		return 0, nil
	case err != nil:
		w.setIoState(IoCancelled)
		return 0, Exception(err, "when read")
	case n == 0:
		w.blocked = true
	}
	return n, nil
}

// OnDrain implements BufferProcessor, it consumes complete head lines.
func (w *InboundWay) OnDrain(b *Buffer, args ...interface{}) (drained int, err error) {
	before := b.Remaining()
	for w.MessageState() < MessageBody && b.Remaining() > 0 {
		w.line, w.lineState, err = b.DrainLine(w.line, w.lineState)
		if err != nil {
			return before - b.Remaining(), err
		}
		if w.lineState != BufferDraining {
			break
		}
		if err = w.onLine(w.line); err != nil {
			return before - b.Remaining(), err
		}
		w.line, w.lineState = w.line[:0], BufferIdle
	}
	drained = before - b.Remaining()
	if w.headBytes += drained; w.headBytes > maxHeadSize {
		return drained, Exception(ErrMalformedMessage, "message head too large")
	}
	return drained, nil
}

func (w *InboundWay) onLine(line []byte) error {
	switch w.MessageState() {
	case MessageStart:
		// empty lines before the start line are tolerated
		if len(line) == 0 {
			return nil
		}
		w.start = decodeLatin1(line)
		w.setMessageState(MessageHeaders)
	case MessageHeaders:
		if len(line) == 0 {
			w.setMessageState(MessageBody)
			return nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return Exception(ErrMalformedMessage, "obsolete header line folding")
		}
		name, value, ok := parseHeaderLine(line)
		if !ok {
			return Exception(ErrMalformedMessage, fmt.Sprintf("invalid header line %q", line))
		}
		w.header.Add(name, value)
	}
	return nil
}

// readHead parses the start line and the header lines of the next message.
// When idle is set and no byte of the message arrived yet, it returns errWouldBlock
// instead of waiting.
func (w *InboundWay) readHead(idle bool) error {
	w.setMessageState(MessageStart)
	w.line, w.lineState = w.line[:0], BufferIdle
	w.start, w.header, w.headBytes = "", nil, 0
	for {
		w.blocked = false
		if _, err := w.buffer.Process(w); err != nil {
			return err
		}
		switch {
		case w.MessageState() >= MessageBody:
			trace(w.conn, "inbound head %q", w.start)
			return nil
		case !w.conn.IsActive():
			return w.conn.closedError("when read message head")
		case w.eof:
			if w.headBytes == 0 {
				return io.EOF
			}
			return Exception(ErrUnexpectedEOF, "when read message head")
		case idle && w.headBytes == 0:
			return errWouldBlock
		}
		if err := w.waitIo(w.conn.waitReadable); err != nil {
			return err
		}
	}
}

func (w *InboundWay) lockHead(idle bool) error {
	if err := w.Complete(); err != nil {
		return err
	}
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.conn.unlock(reading)
	return w.readHead(idle)
}

// ReadRequest reads the next request, its Body streams the entity.
// It returns io.EOF when the peer closed between two messages.
func (w *InboundWay) ReadRequest() (*Request, error) {
	return w.readRequest(false)
}

func (w *InboundWay) readRequest(idle bool) (req *Request, err error) {
	if err = w.lockHead(idle); err != nil {
		return nil, err
	}
	req = &Request{Header: w.header, RemoteAddr: w.conn.RemoteAddr()}
	if err = parseRequestLine(w.start, req); err != nil {
		return nil, err
	}
	req.close = !persistent(req.ProtoMajor, req.ProtoMinor, req.Header)
	if req.Header.Has(HeaderTransferEncoding) {
		if !req.Header.isChunked() {
			return nil, Exception(ErrMalformedMessage, "unsupported transfer coding "+req.Header.Get(HeaderTransferEncoding))
		}
		// a Content-Length sent along is ignored, the connection is not reused
		req.close = req.close || req.Header.Has(HeaderContentLength)
		req.ContentLength = UnknownSize
		req.Body = w.newBody(NewChunkedReader(w))
		return req, nil
	}
	size, err := req.Header.contentLength()
	if err != nil {
		return nil, err
	}
	if size < 0 {
		size = 0
	}
	req.ContentLength = size
	req.Body = w.newBody(NewSizedReader(w, size))
	return req, nil
}

// ReadResponse reads the next final response to a request of the given method.
// Interim 1xx responses are skipped.
func (w *InboundWay) ReadResponse(method string) (resp *Response, err error) {
	for {
		if err = w.lockHead(false); err != nil {
			return nil, err
		}
		resp = &Response{Header: w.header}
		if err = parseStatusLine(w.start, resp); err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 || resp.StatusCode == 101 {
			break
		}
		w.setMessageState(MessageEnd)
	}
	resp.close = !persistent(resp.ProtoMajor, resp.ProtoMinor, resp.Header)
	switch {
	case method == "HEAD" || !bodyAllowed(resp.StatusCode):
		resp.ContentLength, _ = resp.Header.contentLength()
		resp.Body = w.newBody(bytes.NewReader(nil))
	case resp.Header.isChunked():
		resp.ContentLength = UnknownSize
		resp.Body = w.newBody(NewChunkedReader(w))
	default:
		size, err := resp.Header.contentLength()
		if err != nil {
			return nil, err
		}
		resp.ContentLength = size
		if size >= 0 {
			resp.Body = w.newBody(NewSizedReader(w, size))
			break
		}
		// the entity ends with the connection
		resp.close = true
		resp.Body = w.newBody(w)
	}
	return resp, nil
}

func (w *InboundWay) newBody(r io.Reader) io.ReadCloser {
	w.body = &inboundBody{way: w, r: r}
	return w.body
}

// Complete discards what is left of the current entity, so that the next
// message starts at the right byte, then marks the way idle.
func (w *InboundWay) Complete() error {
	body := w.body
	w.body = nil
	if body != nil && !body.done {
		if _, err := io.Copy(io.Discard, body.r); err != nil {
			return err
		}
	}
	w.setMessageState(MessageIdle)
	if w.IoState() != IoCancelled {
		w.setIoState(IoIdle)
	}
	return nil
}

// inboundBody is the entity stream of the current inbound message.
type inboundBody struct {
	way    *InboundWay
	r      io.Reader
	done   bool
	closed bool
}

func (b *inboundBody) Read(p []byte) (n int, err error) {
	if b.closed {
		return 0, Exception(ErrConnClosed, "when read body")
	}
	if b.done {
		return 0, io.EOF
	}
	n, err = b.r.Read(p)
	if err == io.EOF {
		b.done = true
		b.way.setMessageState(MessageEnd)
	}
	return n, err
}

// Close abandons the entity, the rest of it is discarded by the next message.
func (b *inboundBody) Close() error {
	b.closed = true
	return nil
}

// Trailer returns the trailer of a chunked entity once it has been read.
func (b *inboundBody) Trailer() Header {
	return trailerOf(b.r)
}
