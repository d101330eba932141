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
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/text/encoding/charmap"
)

// Header names used by the ways.
const (
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderContentRange     = "Content-Range"
	HeaderContentType      = "Content-Type"
	HeaderAcceptRanges     = "Accept-Ranges"
	HeaderHost             = "Host"
	HeaderRange            = "Range"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderTrailer          = "Trailer"
)

// HeaderField is a single header line.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered series of fields, names are matched case-insensitively.
type Header []HeaderField

// Add appends a field.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Set replaces every field called name with a single one.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field called name.
func (h *Header) Del(name string) {
	fs := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			fs = append(fs, f)
		}
	}
	*h = fs
}

// Get returns the value of the first field called name.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns the values of all the fields called name.
func (h Header) Values(name string) []string {
	var vs []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// WriteTo writes the fields as Latin-1 header lines.
// Nothing is written when a field is not a valid header line.
func (h Header) WriteTo(w io.Writer) (n int64, err error) {
	if err = h.validate(); err != nil {
		return 0, err
	}
	for _, f := range h {
		line, err := encodeLatin1(f.Name + ": " + f.Value + "\r\n")
		if err != nil {
			return n, err
		}
		m, err := w.Write(line)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// validate rejects names and values that would not survive as a single header line.
func (h Header) validate() error {
	for _, f := range h {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return Exception(ErrMalformedMessage, fmt.Sprintf("invalid header name %q", f.Name))
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return Exception(ErrMalformedMessage, fmt.Sprintf("invalid value of header %s", f.Name))
		}
	}
	return nil
}

// contentLength returns the declared Content-Length, -1 if absent.
func (h Header) contentLength() (int64, error) {
	vs := h.Values(HeaderContentLength)
	if len(vs) == 0 {
		return UnknownSize, nil
	}
	size := UnknownSize
	for _, v := range vs {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n < 0 || s[0] == '+' {
				return 0, Exception(ErrMalformedMessage, fmt.Sprintf("invalid content length %q", v))
			}
			if size >= 0 && n != size {
				return 0, Exception(ErrMalformedMessage, "conflicting content length")
			}
			size = n
		}
	}
	return size, nil
}

// isChunked reports whether chunked is the final transfer coding.
func (h Header) isChunked() bool {
	vs := h.Values(HeaderTransferEncoding)
	if len(vs) == 0 {
		return false
	}
	codings := strings.Split(vs[len(vs)-1], ",")
	return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
}

// hasToken reports whether a comma separated header contains token.
func (h Header) hasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// parseHeaderLine splits "Name: value" and validates both sides.
func parseHeaderLine(line []byte) (name, value string, ok bool) {
	i := 0
	for i < len(line) && line[i] != ':' {
		i++
	}
	if i == 0 || i == len(line) {
		return "", "", false
	}
	name = string(line[:i])
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", false
	}
	value = decodeLatin1(trimOWS(line[i+1:]))
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}

// decodeLatin1 turns header bytes into a string, each byte being one rune.
func decodeLatin1(b []byte) string {
	for _, c := range b {
		if c >= 0x80 {
			s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
			if err != nil {
				return string(b)
			}
			return string(s)
		}
	}
	return string(b)
}

// encodeLatin1 turns a header string into bytes, failing on runes outside Latin-1.
func encodeLatin1(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			b, err := charmap.ISO8859_1.NewEncoder().String(s)
			if err != nil {
				return nil, Exception(ErrMalformedMessage, fmt.Sprintf("header %q is not latin-1", s))
			}
			return []byte(b), nil
		}
	}
	return []byte(s), nil
}
