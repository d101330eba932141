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
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// newTestPeer wraps the raw end of a socket pair, reads on it block through the runtime poller.
func newTestPeer(t *testing.T, fd int) *os.File {
	t.Helper()
	peer := os.NewFile(uintptr(fd), "peer")
	t.Cleanup(func() { peer.Close() })
	return peer
}

// readPeer reads exactly len(expect) bytes from the peer and compares them.
func readPeer(t *testing.T, peer *os.File, expect string) {
	t.Helper()
	peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, len(expect))
	_, err := io.ReadFull(peer, buf)
	MustNil(t, err)
	Equal(t, string(buf), expect)
}

func TestInboundPipelinedRequests(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	in := conn.Inbound()

	_, err := peer.Write([]byte("\r\nGET /a HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc" +
		"POST /b HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello" +
		"GET /c HTTP/1.0\r\nHost: y\r\n\r\n"))
	MustNil(t, err)

	// the body of the first one is never read, the next read discards it
	req, err := in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.Method, "GET")
	Equal(t, req.Target, "/a")
	Equal(t, req.Header.Get("host"), "x")
	Equal(t, req.ContentLength, int64(3))
	MustTrue(t, !req.Close())
	Equal(t, in.MessageState(), MessageBody)

	req, err = in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.Method, "POST")
	body, err := io.ReadAll(req.Body)
	MustNil(t, err)
	Equal(t, string(body), "hello")
	Equal(t, in.MessageState(), MessageEnd)

	req, err = in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.Target, "/c")
	Equal(t, req.ProtoMinor, 0)
	MustTrue(t, req.Close())
	Equal(t, req.ContentLength, int64(0))
	MustNil(t, in.Complete())
	Equal(t, in.MessageState(), MessageIdle)
	Equal(t, in.IoState(), IoIdle)

	// peer closes between two messages
	peer.Close()
	_, err = in.ReadRequest()
	Equal(t, err, io.EOF)
}

func TestInboundChunkedRequest(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	in := conn.Inbound()

	go func() {
		// split in the middle of the chunk data
		peer.Write([]byte("POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhel"))
		time.Sleep(20 * time.Millisecond)
		peer.Write([]byte("lo\r\n6\r\n world\r\n0\r\nX-Sum: 11\r\n\r\nGET /next HTTP/1.1\r\n\r\n"))
	}()

	req, err := in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.ContentLength, UnknownSize)
	MustTrue(t, !req.Close())
	body, err := io.ReadAll(req.Body)
	MustNil(t, err)
	Equal(t, string(body), "hello world")
	Equal(t, req.Trailer().Get("X-Sum"), "11")

	req, err = in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.Target, "/next")
}

func TestInboundRequestWithBothFramings(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)

	peer.Write([]byte("POST / HTTP/1.1\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n0\r\n\r\n"))
	req, err := conn.Inbound().ReadRequest()
	MustNil(t, err)
	MustTrue(t, req.Close())
	body, err := io.ReadAll(req.Body)
	MustNil(t, err)
	Equal(t, string(body), "ok")
}

func TestInboundMalformedRequest(t *testing.T) {
	var cases = []string{
		"GET / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\n folded\r\n\r\n",
		"GET / HTTP/1.1\r\nno colon\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: 1, 2\r\n\r\n",
		"GET / HTTP/1.1\rX\n\r\n",
		"GET / FTP/1.0\r\n\r\n",
		"GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", maxHeadSize) + "\r\n\r\n",
	}
	for i, c := range cases {
		conn, wfd := newTestConnection(t)
		peer := newTestPeer(t, wfd)
		go peer.Write([]byte(c))
		_, err := conn.Inbound().ReadRequest()
		Assert(t, errors.Is(err, ErrMalformedMessage), i, err)
		conn.Close()
	}
}

func TestInboundUnexpectedEOF(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	peer.Write([]byte("GET / HTTP/1.1\r\nHo"))
	peer.Close()
	_, err := conn.Inbound().ReadRequest()
	Assert(t, errors.Is(err, ErrUnexpectedEOF), err)

	conn, wfd = newTestConnection(t)
	defer conn.Close()
	peer = newTestPeer(t, wfd)
	peer.Write([]byte("PUT / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"))
	peer.Close()
	req, err := conn.Inbound().ReadRequest()
	MustNil(t, err)
	_, err = io.ReadAll(req.Body)
	Assert(t, errors.Is(err, ErrUnexpectedEOF), err)
}

func TestInboundBodyClosed(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	peer.Write([]byte("PUT / HTTP/1.1\r\nContent-Length: 4\r\n\r\nabcdGET / HTTP/1.1\r\n\r\n"))
	in := conn.Inbound()
	req, err := in.ReadRequest()
	MustNil(t, err)
	MustNil(t, req.Body.Close())
	_, err = req.Body.Read(make([]byte, 4))
	Assert(t, errors.Is(err, ErrConnClosed), err)
	// the abandoned entity is skipped
	req, err = in.ReadRequest()
	MustNil(t, err)
	Equal(t, req.Method, "GET")
}

func TestWayConcurrentUse(t *testing.T) {
	conn, wfd := newTestConnection(t)
	newTestPeer(t, wfd)

	MustTrue(t, conn.lock(reading))
	_, err := conn.Inbound().Read(make([]byte, 1))
	Assert(t, errors.Is(err, ErrUnsupported), err)
	conn.unlock(reading)

	MustTrue(t, conn.lock(flushing))
	_, err = conn.Outbound().Write([]byte("x"))
	Assert(t, errors.Is(err, ErrUnsupported), err)
	conn.unlock(flushing)

	MustNil(t, conn.Close())
	_, err = conn.Inbound().Read(make([]byte, 1))
	Assert(t, errors.Is(err, ErrConnClosed), err)
	_, err = conn.Outbound().Write([]byte("x"))
	Assert(t, errors.Is(err, ErrConnClosed), err)
}

func TestInboundResponses(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	in := conn.Inbound()
	peer.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok" +
		"HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\n" +
		"HTTP/1.1 204 No Content\r\n\r\n" +
		"HTTP/1.1 206 Partial Content\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n" +
		"HTTP/1.0 200 OK\r\n\r\nuntil close"))

	resp, err := in.ReadResponse("GET")
	MustNil(t, err)
	Equal(t, resp.StatusCode, 200)
	body, _ := io.ReadAll(resp.Body)
	Equal(t, string(body), "ok")

	// no body follows a response to HEAD
	resp, err = in.ReadResponse("HEAD")
	MustNil(t, err)
	Equal(t, resp.ContentLength, int64(7))
	body, _ = io.ReadAll(resp.Body)
	Equal(t, len(body), 0)

	resp, err = in.ReadResponse("GET")
	MustNil(t, err)
	Equal(t, resp.StatusCode, StatusNoContent)
	body, _ = io.ReadAll(resp.Body)
	Equal(t, len(body), 0)

	resp, err = in.ReadResponse("GET")
	MustNil(t, err)
	Equal(t, resp.StatusCode, StatusPartialContent)
	body, _ = io.ReadAll(resp.Body)
	Equal(t, string(body), "abc")

	resp, err = in.ReadResponse("GET")
	MustNil(t, err)
	MustTrue(t, resp.Close())
	Equal(t, resp.ContentLength, UnknownSize)
	peer.Close()
	body, err = io.ReadAll(resp.Body)
	MustNil(t, err)
	Equal(t, string(body), "until close")
}

func TestOutboundResponseFraming(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	out := conn.Outbound()
	http11 := &Request{Method: "GET", ProtoMajor: 1, ProtoMinor: 1}
	http10 := &Request{Method: "GET", ProtoMajor: 1, ProtoMinor: 0}

	// known size
	resp := &Response{StatusCode: 200, Request: http11, Entity: StringEntity("hello", "text/plain")}
	MustNil(t, out.WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello")
	MustTrue(t, !resp.Close())
	Equal(t, out.MessageState(), MessageIdle)

	// unknown size to a HTTP/1.1 peer
	resp = &Response{StatusCode: 200, Request: http11, Entity: NewEntity(strings.NewReader("test data"), UnknownSize, "")}
	MustNil(t, out.WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n9\r\ntest data\r\n0\r\n\r\n")

	// head only
	resp = &Response{StatusCode: 200, Request: http11, Entity: StringEntity("hello", "")}
	MustNil(t, out.WriteResponse(resp, true))
	readPeer(t, peer, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n")

	// no body allowed
	resp = &Response{StatusCode: StatusNotModified, Request: http11, Entity: StringEntity("hello", "")}
	MustNil(t, out.WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 304 Not Modified\r\n\r\n")

	// persistent HTTP/1.0
	resp = &Response{StatusCode: 200, Request: http10, Entity: StringEntity("a", "")}
	MustNil(t, out.WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\nConnection: keep-alive\r\n\r\na")

	// unknown size to a HTTP/1.0 peer is delimited by the close
	resp = &Response{StatusCode: 200, Request: http10, Entity: NewEntity(strings.NewReader("abc"), UnknownSize, "")}
	MustNil(t, out.WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nabc")
	MustTrue(t, resp.Close())
}

func TestOutboundRangedEntity(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)

	e := StringEntity("0123456789", "")
	e.Range = &Range{Index: 2, Size: 3}
	resp := &Response{StatusCode: StatusPartialContent, Entity: e}
	MustNil(t, conn.Outbound().WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 206 Partial Content\r\nContent-Length: 3\r\n\r\n234")

	// a suffix larger than the entity of unknown size sends the whole of it
	e = NewEntity(strings.NewReader("abc"), UnknownSize, "")
	e.Range = &Range{Index: IndexLast, Size: 1 << 62}
	resp = &Response{StatusCode: StatusPartialContent, Entity: e}
	MustNil(t, conn.Outbound().WriteResponse(resp, false))
	readPeer(t, peer, "HTTP/1.1 206 Partial Content\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n")
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestOutboundRequest(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	out := conn.Outbound()

	body := &closeRecorder{Reader: strings.NewReader("data")}
	req := NewRequest("PUT", "/file")
	req.Header.Add(HeaderHost, "example.org")
	req.Entity = NewEntity(body, 4, "")
	MustNil(t, out.WriteRequest(req))
	readPeer(t, peer, "PUT /file HTTP/1.1\r\nHost: example.org\r\nContent-Length: 4\r\n\r\ndata")
	MustTrue(t, body.closed)

	req = NewRequest("POST", "/empty")
	MustNil(t, out.WriteRequest(req))
	readPeer(t, peer, "POST /empty HTTP/1.1\r\nContent-Length: 0\r\n\r\n")

	req = NewRequest("POST", "/old")
	req.Proto, req.ProtoMinor = "HTTP/1.0", 0
	body = &closeRecorder{Reader: strings.NewReader("data")}
	req.Entity = NewEntity(body, UnknownSize, "")
	err := out.WriteRequest(req)
	Assert(t, errors.Is(err, ErrContentLength), err)
	MustTrue(t, body.closed)
}

func TestOutboundRejectsInjectedHead(t *testing.T) {
	conn, wfd := newTestConnection(t)
	defer conn.Close()
	peer := newTestPeer(t, wfd)
	out := conn.Outbound()

	resp := &Response{}
	resp.SetStatus(StatusOK)
	resp.Header.Set("X-Test", "a\r\nSet-Cookie: evil=1")
	body := &closeRecorder{Reader: strings.NewReader("data")}
	resp.Entity = NewEntity(body, 4, "")
	err := out.WriteResponse(resp, false)
	Assert(t, errors.Is(err, ErrMalformedMessage), err)
	MustTrue(t, body.closed)
	Equal(t, out.Buffered(), 0)

	req := NewRequest("GET", "/ HTTP/1.1\r\nX-Evil: 1\r\n\r\nGET /")
	err = out.WriteRequest(req)
	Assert(t, errors.Is(err, ErrMalformedMessage), err)
	Equal(t, out.Buffered(), 0)

	// nothing reached the peer, the next message goes out whole
	MustNil(t, out.WriteRequest(NewRequest("GET", "/ok")))
	readPeer(t, peer, "GET /ok HTTP/1.1\r\n\r\n")
}

// Both ends wrapped: a request and its response travel through the two ways.
func TestWayRoundTrip(t *testing.T) {
	r, w := GetSysFdPairs()
	var client, server = &connection{}, &connection{}
	MustNil(t, client.init(newNetFD(r, "unix", nil, nil), &options{chunkSize: 4}))
	MustNil(t, server.init(newNetFD(w, "unix", nil, nil), nil))
	defer client.Close()
	defer server.Close()

	data := string(randomBytes(100000))
	done := make(chan error, 1)
	go func() {
		req := NewRequest("POST", "/echo")
		req.Entity = NewEntity(strings.NewReader(data), UnknownSize, "")
		done <- client.Outbound().WriteRequest(req)
	}()

	req, err := server.Inbound().ReadRequest()
	MustNil(t, err)
	got, err := io.ReadAll(req.Body)
	MustNil(t, err)
	Equal(t, len(got), len(data))
	MustTrue(t, string(got) == data)
	MustNil(t, <-done)

	go func() {
		resp := &Response{StatusCode: 200, Request: req, Entity: StringEntity(data, "")}
		done <- server.Outbound().WriteResponse(resp, false)
	}()
	resp, err := client.Inbound().ReadResponse("POST")
	MustNil(t, err)
	Equal(t, resp.ContentLength, int64(len(data)))
	got, err = io.ReadAll(resp.Body)
	MustNil(t, err)
	MustTrue(t, string(got) == data)
	MustNil(t, <-done)
}
