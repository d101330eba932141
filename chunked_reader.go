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
)

const (
	// maxChunkLineSize bounds chunk size lines and trailer lines.
	maxChunkLineSize = 4096
	// maxChunkSizeDigits is the longest size accepted, larger values overflow int64.
	maxChunkSizeDigits = 16
)

type chunkState int32

const (
	chunkReadSize chunkState = iota
	chunkReadData
	chunkReadCRLF
	chunkReadTrailer
	chunkEnd
)

func (s chunkState) String() string {
	switch s {
	case chunkReadSize:
		return "READ_SIZE"
	case chunkReadData:
		return "READ_DATA"
	case chunkReadCRLF:
		return "READ_TRAILING_CRLF"
	case chunkReadTrailer:
		return "READ_FINAL"
	case chunkEnd:
		return "END"
	}
	return "UNKNOWN"
}

// ChunkedReader decodes an HTTP/1.1 chunked entity.
//
// It never reads past the final CRLF of the terminal chunk, so bytes of a
// following pipelined message stay in the source.
type ChunkedReader struct {
	r         io.Reader
	br        io.ByteReader
	state     chunkState
	remaining int64
	trailer   Header
	line      []byte
	one       [1]byte
	err       error
	closed    bool
}

// NewChunkedReader returns a decoder reading chunks from r.
// If r implements io.ByteReader, size and trailer lines are read byte by byte through it.
func NewChunkedReader(r io.Reader) *ChunkedReader {
	cr := &ChunkedReader{r: r}
	if br, ok := r.(io.ByteReader); ok {
		cr.br = br
	}
	return cr
}

// Trailer returns the trailer fields, complete once Read has returned io.EOF.
func (cr *ChunkedReader) Trailer() Header {
	return cr.trailer
}

// Read implements io.Reader.
func (cr *ChunkedReader) Read(p []byte) (n int, err error) {
	if cr.err != nil {
		return 0, cr.err
	}
	for {
		switch cr.state {
		case chunkReadSize:
			size, err := cr.readSize()
			if err != nil {
				return 0, cr.fail(err)
			}
			if size == 0 {
				cr.state = chunkReadTrailer
			} else {
				cr.remaining, cr.state = size, chunkReadData
			}
		case chunkReadData:
			if len(p) == 0 {
				return 0, nil
			}
			if int64(len(p)) > cr.remaining {
				p = p[:cr.remaining]
			}
			n, err = cr.r.Read(p)
			cr.remaining -= int64(n)
			if cr.remaining == 0 {
				cr.state = chunkReadCRLF
			}
			if err == io.EOF {
				if cr.remaining > 0 {
					return n, cr.fail(Exception(ErrUnexpectedEOF, fmt.Sprintf("with %d bytes left in chunk", cr.remaining)))
				}
				err = nil
			}
			if err != nil {
				return n, cr.fail(err)
			}
			if n > 0 {
				return n, nil
			}
		case chunkReadCRLF:
			if err := cr.readCRLF(); err != nil {
				return 0, cr.fail(err)
			}
			cr.state = chunkReadSize
		case chunkReadTrailer:
			if err := cr.readTrailer(); err != nil {
				return 0, cr.fail(err)
			}
			cr.state = chunkEnd
		case chunkEnd:
			cr.err = io.EOF
			return 0, io.EOF
		}
	}
}

// Close abandons any pending chunk and closes the source when it is an io.Closer.
func (cr *ChunkedReader) Close() error {
	if cr.closed {
		return nil
	}
	cr.closed = true
	if cr.err == nil {
		cr.err = Exception(ErrConnClosed, "when read chunk")
	}
	if c, ok := cr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (cr *ChunkedReader) fail(err error) error {
	cr.err = err
	return err
}

func (cr *ChunkedReader) readByte() (byte, error) {
	if cr.br != nil {
		return cr.br.ReadByte()
	}
	for {
		n, err := cr.r.Read(cr.one[:])
		if n == 1 {
			return cr.one[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// readLine reads up to CRLF, the returned line excludes it and is only valid until the next call.
func (cr *ChunkedReader) readLine(what string) ([]byte, error) {
	cr.line = cr.line[:0]
	for {
		c, err := cr.readByte()
		if err == io.EOF {
			return nil, Exception(ErrUnexpectedEOF, "in "+what)
		}
		if err != nil {
			return nil, err
		}
		if c == '\n' {
			if len(cr.line) == 0 || cr.line[len(cr.line)-1] != '\r' {
				return nil, Exception(ErrChunkFraming, "missing CR in "+what)
			}
			return cr.line[:len(cr.line)-1], nil
		}
		if len(cr.line) >= maxChunkLineSize {
			return nil, Exception(ErrChunkFraming, what+" too long")
		}
		cr.line = append(cr.line, c)
	}
}

func (cr *ChunkedReader) readSize() (int64, error) {
	line, err := cr.readLine("chunk size line")
	if err != nil {
		return 0, err
	}
	hex := line
	for i, c := range line {
		if c == ';' {
			hex = line[:i]
			break
		}
	}
	hex = trimOWS(hex)
	if len(hex) == 0 || len(hex) > maxChunkSizeDigits {
		return 0, Exception(ErrChunkFraming, fmt.Sprintf("invalid chunk size %q", line))
	}
	for _, c := range hex {
		if !isHex(c) {
			return 0, Exception(ErrChunkFraming, fmt.Sprintf("invalid chunk size %q", line))
		}
	}
	size, err := strconv.ParseInt(string(hex), 16, 64)
	if err != nil {
		return 0, Exception(ErrChunkFraming, fmt.Sprintf("invalid chunk size %q", line))
	}
	return size, nil
}

func (cr *ChunkedReader) readCRLF() error {
	for _, want := range [2]byte{'\r', '\n'} {
		c, err := cr.readByte()
		if err == io.EOF {
			return Exception(ErrUnexpectedEOF, "before chunk CRLF")
		}
		if err != nil {
			return err
		}
		if c != want {
			return Exception(ErrChunkFraming, fmt.Sprintf("missing CRLF after chunk data, found %q", c))
		}
	}
	return nil
}

func (cr *ChunkedReader) readTrailer() error {
	for {
		line, err := cr.readLine("trailer")
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
		name, value, ok := parseHeaderLine(line)
		if !ok {
			return Exception(ErrChunkFraming, fmt.Sprintf("malformed trailer %q", line))
		}
		cr.trailer.Add(name, value)
	}
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
