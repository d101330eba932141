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
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Entity is an outgoing message body.
type Entity struct {
	// Body provides the bytes of the whole entity.
	Body io.Reader
	// Size is the total size of Body, or UnknownSize.
	Size int64
	// Range restricts the transferred bytes when set.
	Range *Range
	// MediaType is sent as Content-Type when set.
	MediaType string
}

// NewEntity returns an entity streaming size bytes out of r, size may be UnknownSize.
func NewEntity(r io.Reader, size int64, mediaType string) *Entity {
	return &Entity{Body: r, Size: size, MediaType: mediaType}
}

// StringEntity returns an entity holding s.
func StringEntity(s, mediaType string) *Entity {
	return NewEntity(strings.NewReader(s), int64(len(s)), mediaType)
}

// BytesEntity returns an entity holding b.
func BytesEntity(b []byte, mediaType string) *Entity {
	return NewEntity(bytes.NewReader(b), int64(len(b)), mediaType)
}

// AvailableSize returns the number of bytes actually transferred, UnknownSize if not known.
func (e *Entity) AvailableSize() int64 {
	if e == nil {
		return 0
	}
	return AvailableSize(e.Size, e.Range)
}

// Reader returns the stream of transferred bytes.
func (e *Entity) Reader() io.Reader {
	if e.Body == nil {
		return bytes.NewReader(nil)
	}
	if e.Range != nil {
		return NewRangeReader(e.Body, e.Size, *e.Range)
	}
	return e.Body
}

// Release closes the body when it is an io.Closer.
func (e *Entity) Release() error {
	if e == nil || e.Body == nil {
		return nil
	}
	if c, ok := e.Body.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Request is an HTTP/1.x request.
//
// On the server side Body streams the inbound entity and Entity is unused.
// On the client side Entity is the outbound body.
type Request struct {
	Method     string
	Target     string
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     Header

	Body          io.ReadCloser
	ContentLength int64
	Entity        *Entity

	RemoteAddr net.Addr
	close      bool
}

// NewRequest returns an HTTP/1.1 request with no body.
func NewRequest(method, target string) *Request {
	return &Request{
		Method:        method,
		Target:        target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		ContentLength: 0,
	}
}

// Ranges returns the byte ranges asked by the Range header, nil when absent.
func (r *Request) Ranges() ([]Range, error) {
	v := r.Header.Get(HeaderRange)
	if v == "" {
		return nil, nil
	}
	return ParseRanges(v)
}

// Close reports whether the connection must be closed after this request.
func (r *Request) Close() bool {
	return r.close
}

// Trailer returns the trailer of a chunked body once it has been read to the end.
func (r *Request) Trailer() Header {
	return trailerOf(r.Body)
}

// Response is an HTTP/1.x response.
//
// On the server side Entity is the outbound body.
// On the client side Body streams the inbound entity.
type Response struct {
	Proto      string
	ProtoMajor int
	ProtoMinor int
	StatusCode int
	Reason     string
	Header     Header

	Entity        *Entity
	Body          io.ReadCloser
	ContentLength int64

	Request *Request
	close   bool
}

// SetStatus sets the status code and its standard reason phrase.
func (r *Response) SetStatus(code int) {
	r.StatusCode, r.Reason = code, StatusText(code)
}

// SetEntity sets the outbound body.
func (r *Response) SetEntity(e *Entity) {
	r.Entity = e
}

// Close reports whether the connection is closed after this response.
func (r *Response) Close() bool {
	return r.close
}

// Trailer returns the trailer of a chunked body once it has been read to the end.
func (r *Response) Trailer() Header {
	return trailerOf(r.Body)
}

// bodyAllowed reports whether a response with this status carries a body.
func bodyAllowed(code int) bool {
	switch {
	case code >= 100 && code < 200:
		return false
	case code == StatusNoContent, code == StatusNotModified:
		return false
	}
	return true
}

// parseProto parses "HTTP/x.y".
func parseProto(proto string) (major, minor int, ok bool) {
	if !strings.HasPrefix(proto, "HTTP/") || len(proto) != len("HTTP/1.1") || proto[6] != '.' {
		return 0, 0, false
	}
	maj, minr := proto[5], proto[7]
	if maj < '0' || maj > '9' || minr < '0' || minr > '9' {
		return 0, 0, false
	}
	return int(maj - '0'), int(minr - '0'), true
}

// persistent tells whether the connection stays open after a message of this version and header.
func persistent(major, minor int, h Header) bool {
	if h.hasToken(HeaderConnection, "close") {
		return false
	}
	if major == 1 && minor == 0 {
		return h.hasToken(HeaderConnection, "keep-alive")
	}
	return major >= 1
}

// parseRequestLine parses "METHOD SP target SP HTTP/x.y".
func parseRequestLine(line string, req *Request) error {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || !isToken(method) || target == "" || strings.ContainsAny(target, " \t") {
		return Exception(ErrMalformedMessage, fmt.Sprintf("invalid request line %q", line))
	}
	major, minor, ok := parseProto(proto)
	if !ok || major != 1 {
		return Exception(ErrMalformedMessage, fmt.Sprintf("unsupported protocol %q", proto))
	}
	req.Method, req.Target, req.Proto = method, target, proto
	req.ProtoMajor, req.ProtoMinor = major, minor
	return nil
}

// parseStatusLine parses "HTTP/x.y SP code SP reason".
func parseStatusLine(line string, resp *Response) error {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Exception(ErrMalformedMessage, fmt.Sprintf("invalid status line %q", line))
	}
	major, minor, ok := parseProto(proto)
	if !ok || major != 1 {
		return Exception(ErrMalformedMessage, fmt.Sprintf("unsupported protocol %q", proto))
	}
	code, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 || status < 100 {
		return Exception(ErrMalformedMessage, fmt.Sprintf("invalid status code %q", code))
	}
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = proto, major, minor
	resp.StatusCode, resp.Reason = status, reason
	return nil
}

type trailerer interface {
	Trailer() Header
}

func trailerOf(body io.Reader) Header {
	if t, ok := body.(trailerer); ok {
		return t.Trailer()
	}
	return nil
}

// HTTP status codes used by the server.
const (
	StatusContinue                     = 100
	StatusOK                           = 200
	StatusNoContent                    = 204
	StatusPartialContent               = 206
	StatusNotModified                  = 304
	StatusBadRequest                   = 400
	StatusNotFound                     = 404
	StatusRequestedRangeNotSatisfiable = 416
	StatusInternalServerError          = 500
	StatusNotImplemented               = 501
	StatusHTTPVersionNotSupported      = 505
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase of code, empty if unknown.
func StatusText(code int) string {
	return statusText[code]
}
