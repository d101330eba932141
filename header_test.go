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

package netway

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeader(t *testing.T) {
	var h Header
	h.Add("Accept", "text/plain")
	h.Add("accept", "text/html")
	h.Add("Host", "example.org")
	Equal(t, h.Get("ACCEPT"), "text/plain")
	Equal(t, len(h.Values("Accept")), 2)
	MustTrue(t, h.Has("host"))

	h.Set("Accept", "*/*")
	Equal(t, len(h), 2)
	Equal(t, h.Get("accept"), "*/*")
	// order of the remaining fields is kept
	Equal(t, h[0].Name, "Host")

	c := h.Clone()
	c.Del("host")
	Equal(t, len(c), 1)
	Equal(t, len(h), 2)
	MustTrue(t, Header(nil).Clone() == nil)
}

func TestHeaderWriteTo(t *testing.T) {
	h := Header{{Name: "Host", Value: "a"}, {Name: "X-Name", Value: "café"}}
	var out bytes.Buffer
	n, err := h.WriteTo(&out)
	MustNil(t, err)
	Equal(t, out.String(), "Host: a\r\nX-Name: caf\xe9\r\n")
	Equal(t, n, int64(out.Len()))

	h = Header{{Name: "X-Name", Value: "世"}}
	_, err = h.WriteTo(&out)
	Assert(t, errors.Is(err, ErrMalformedMessage), err)
}

func TestHeaderWriteToRejectsLineBreaks(t *testing.T) {
	var cases = []Header{
		{{Name: "X-Test", Value: "a\r\nSet-Cookie: evil=1"}},
		{{Name: "X-Test", Value: "a\nb"}},
		{{Name: "Host", Value: "a"}, {Name: "X-Test\r\nEvil", Value: "1"}},
		{{Name: "Bad Name", Value: "1"}},
		{{Name: "", Value: "1"}},
	}
	for i, h := range cases {
		var out bytes.Buffer
		n, err := h.WriteTo(&out)
		Assert(t, errors.Is(err, ErrMalformedMessage), i, err)
		Equal(t, n, int64(0))
		Equal(t, out.Len(), 0)
	}
	// folding whitespace inside a value is fine
	var out bytes.Buffer
	_, err := Header{{Name: "X-List", Value: "a,\tb c"}}.WriteTo(&out)
	MustNil(t, err)
}

func TestParseHeaderLine(t *testing.T) {
	name, value, ok := parseHeaderLine([]byte("Content-Type: \t text/plain \t"))
	MustTrue(t, ok)
	Equal(t, name, "Content-Type")
	Equal(t, value, "text/plain")

	_, value, ok = parseHeaderLine([]byte("X-Name: caf\xe9"))
	MustTrue(t, ok)
	Equal(t, value, "café")

	_, value, ok = parseHeaderLine([]byte("X-Empty:"))
	MustTrue(t, ok)
	Equal(t, value, "")

	for _, line := range []string{": value", "no colon", "Bad Name: value", "X-Ctl: a\x00b"} {
		_, _, ok = parseHeaderLine([]byte(line))
		Assert(t, !ok, line)
	}
}

func TestHeaderFraming(t *testing.T) {
	h := Header{{Name: "Content-Length", Value: "42"}}
	size, err := h.contentLength()
	MustNil(t, err)
	Equal(t, size, int64(42))

	h = Header{{Name: "Content-Length", Value: "42, 42"}, {Name: "content-length", Value: "42"}}
	size, err = h.contentLength()
	MustNil(t, err)
	Equal(t, size, int64(42))

	size, err = Header{}.contentLength()
	MustNil(t, err)
	Equal(t, size, UnknownSize)

	for _, v := range []string{"-1", "+1", "abc", "1, 2", ""} {
		_, err = Header{{Name: "Content-Length", Value: v}}.contentLength()
		Assert(t, errors.Is(err, ErrMalformedMessage), v, err)
	}

	MustTrue(t, Header{{Name: "Transfer-Encoding", Value: "gzip, Chunked"}}.isChunked())
	MustTrue(t, !Header{{Name: "Transfer-Encoding", Value: "chunked, gzip"}}.isChunked())
	MustTrue(t, !Header{}.isChunked())

	MustTrue(t, Header{{Name: "Connection", Value: "Upgrade, close"}}.hasToken(HeaderConnection, "close"))
	MustTrue(t, !persistent(1, 1, Header{{Name: "Connection", Value: "close"}}))
	MustTrue(t, persistent(1, 1, nil))
	MustTrue(t, !persistent(1, 0, nil))
	MustTrue(t, persistent(1, 0, Header{{Name: "Connection", Value: "keep-alive"}}))
}

func TestParseStartLine(t *testing.T) {
	req := &Request{}
	MustNil(t, parseRequestLine("GET /index.html HTTP/1.1", req))
	Equal(t, req.Method, "GET")
	Equal(t, req.Target, "/index.html")
	Equal(t, req.ProtoMinor, 1)

	for _, line := range []string{"GET /", "GET / HTTP/2.0", "G(T / HTTP/1.1", "GET  HTTP/1.1", "GET / HTTP/1.1 extra"} {
		err := parseRequestLine(line, &Request{})
		Assert(t, errors.Is(err, ErrMalformedMessage), line, err)
	}

	resp := &Response{}
	MustNil(t, parseStatusLine("HTTP/1.0 404 Not Found", resp))
	Equal(t, resp.StatusCode, 404)
	Equal(t, resp.Reason, "Not Found")
	Equal(t, resp.ProtoMinor, 0)
	MustNil(t, parseStatusLine("HTTP/1.1 204", resp))
	Equal(t, resp.Reason, "")

	for _, line := range []string{"HTTP/1.1", "HTTP/1.1 20 OK", "HTTP/1.1 abc OK", "HTTX/1.1 200 OK"} {
		err := parseStatusLine(line, &Response{})
		Assert(t, errors.Is(err, ErrMalformedMessage), line, err)
	}
	MustTrue(t, !bodyAllowed(StatusNoContent))
	MustTrue(t, !bodyAllowed(StatusContinue))
	MustTrue(t, bodyAllowed(StatusOK))
}
