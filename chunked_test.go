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
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestChunkedWriter(t *testing.T) {
	var out bytes.Buffer
	cw := NewChunkedWriter(&out, 0)
	n, err := cw.Write([]byte("test data"))
	MustNil(t, err)
	Equal(t, n, 9)
	MustNil(t, cw.Close())
	MustNil(t, cw.Close())
	Equal(t, out.String(), "9\r\ntest data\r\n0\r\n\r\n")

	_, err = cw.Write([]byte("x"))
	Assert(t, errors.Is(err, ErrConnClosed), err)
}

func TestChunkedWriterChunkSize(t *testing.T) {
	var out bytes.Buffer
	cw := NewChunkedWriter(&out, 2)
	_, err := cw.Write([]byte("test data"))
	MustNil(t, err)
	MustNil(t, cw.Close())
	Equal(t, out.String(), "2\r\nte\r\n2\r\nst\r\n2\r\n d\r\n2\r\nat\r\n1\r\na\r\n0\r\n\r\n")
}

func TestChunkedWriterEmpty(t *testing.T) {
	var out bytes.Buffer
	cw := NewChunkedWriter(&out, 16)
	_, err := cw.Write(nil)
	MustNil(t, err)
	MustNil(t, cw.Flush())
	MustNil(t, cw.Close())
	Equal(t, out.String(), "0\r\n\r\n")
}

func TestChunkedWriterTrailer(t *testing.T) {
	var out bytes.Buffer
	cw := NewChunkedWriter(&out, 16)
	cw.SetTrailer(Header{{Name: "Checksum", Value: "abc"}})
	cw.Write([]byte("hi"))
	MustNil(t, cw.Flush())
	Equal(t, out.String(), "2\r\nhi\r\n")
	MustNil(t, cw.Close())
	Equal(t, out.String(), "2\r\nhi\r\n0\r\nChecksum: abc\r\n\r\n")

	cr := NewChunkedReader(strings.NewReader(out.String()))
	b, err := io.ReadAll(cr)
	MustNil(t, err)
	Equal(t, string(b), "hi")
	Equal(t, cr.Trailer().Get("checksum"), "abc")
}

func TestChunkedWriterInvalidTrailer(t *testing.T) {
	var out bytes.Buffer
	cw := NewChunkedWriter(&out, 16)
	cw.SetTrailer(Header{{Name: "X-Sum", Value: "1\r\n\r\nHTTP/1.1 200 OK"}})
	cw.Write([]byte("hi"))
	err := cw.Close()
	Assert(t, errors.Is(err, ErrMalformedMessage), err)
	// the payload went out, no terminal chunk did
	Equal(t, out.String(), "2\r\nhi\r\n")

	out.Reset()
	cw = NewChunkedWriter(&out, 16)
	cw.SetTrailer(Header{{Name: "X-Name", Value: "café"}})
	MustNil(t, cw.Close())
	Equal(t, out.String(), "0\r\nX-Name: caf\xe9\r\n\r\n")
}

func TestChunkedRoundTrip(t *testing.T) {
	const chunkSize = 64
	for _, size := range []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 3 * chunkSize, 10000} {
		data := randomBytes(size)
		var out bytes.Buffer
		cw := NewChunkedWriter(&out, chunkSize)
		// odd write sizes
		for p := data; len(p) > 0; {
			m := 1 + len(p)/3
			n, err := cw.Write(p[:m])
			MustNil(t, err)
			Equal(t, n, m)
			p = p[m:]
		}
		MustNil(t, cw.Close())

		// decode one byte at a time, then through a ByteReader
		got, err := io.ReadAll(NewChunkedReader(iotest.OneByteReader(bytes.NewReader(out.Bytes()))))
		MustNil(t, err)
		MustTrue(t, bytes.Equal(got, data))
		got, err = io.ReadAll(NewChunkedReader(bufio.NewReader(bytes.NewReader(out.Bytes()))))
		MustNil(t, err)
		MustTrue(t, bytes.Equal(got, data))
	}
}

func TestChunkedReaderNoOverRead(t *testing.T) {
	src := strings.NewReader("5;ext=1\r\nhello\r\n6\r\n world\r\n0\r\nX-Sum: 1\r\n\r\nGET / HTTP/1.1\r\n")
	cr := NewChunkedReader(src)
	b, err := io.ReadAll(cr)
	MustNil(t, err)
	Equal(t, string(b), "hello world")
	Equal(t, cr.Trailer().Get("X-Sum"), "1")
	rest, _ := io.ReadAll(src)
	Equal(t, string(rest), "GET / HTTP/1.1\r\n")

	// EOF is sticky
	n, err := cr.Read(make([]byte, 4))
	Equal(t, n, 0)
	Equal(t, err, io.EOF)
}

func TestChunkedReaderFraming(t *testing.T) {
	var cases = []struct {
		input  string
		expect error
	}{
		{"z\r\nhello\r\n0\r\n\r\n", ErrChunkFraming},
		{"\r\n", ErrChunkFraming},
		{"5\nhello\r\n0\r\n\r\n", ErrChunkFraming},
		{"5\r\nhelloXY0\r\n\r\n", ErrChunkFraming},
		{"10000000000000000\r\n", ErrChunkFraming},
		{"8000000000000000\r\n", ErrChunkFraming},
		{"1000000000000000\r\n", ErrUnexpectedEOF},
		{"0\r\nbad trailer\r\n\r\n", ErrChunkFraming},
		{"5\r\nhel", ErrUnexpectedEOF},
		{"5\r\nhello", ErrUnexpectedEOF},
		{"5\r\nhello\r\n", ErrUnexpectedEOF},
		{"0\r\n", ErrUnexpectedEOF},
		{"a" + strings.Repeat(" ", maxChunkLineSize) + "\r\n", ErrChunkFraming},
	}
	for _, c := range cases {
		cr := NewChunkedReader(strings.NewReader(c.input))
		_, err := io.ReadAll(cr)
		Assert(t, errors.Is(err, c.expect), c.input, err)
		// errors are sticky
		_, err2 := cr.Read(make([]byte, 1))
		Equal(t, err2, err)
	}
}

func TestChunkedReaderLongSize(t *testing.T) {
	// sixteen hex digits is the longest size line accepted
	cr := NewChunkedReader(strings.NewReader("0000000000000005\r\nhello\r\n0\r\n\r\n"))
	b, err := io.ReadAll(cr)
	MustNil(t, err)
	Equal(t, string(b), "hello")
}

func TestChunkedReaderClose(t *testing.T) {
	cr := NewChunkedReader(io.NopCloser(strings.NewReader("5\r\nhello\r\n0\r\n\r\n")))
	p := make([]byte, 2)
	n, err := cr.Read(p)
	MustNil(t, err)
	Equal(t, n, 2)
	MustNil(t, cr.Close())
	MustNil(t, cr.Close())
	_, err = cr.Read(p)
	Assert(t, errors.Is(err, ErrConnClosed), err)
}
