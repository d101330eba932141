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
	"io"
	"strconv"
)

// DefaultChunkSize is the payload size of a chunk when none is configured.
const DefaultChunkSize = pagesize

var (
	bytesCRLF       = []byte("\r\n")
	bytesFinalChunk = []byte("0\r\n")
)

// ChunkedWriter encodes written bytes with the HTTP/1.1 chunked transfer coding.
//
// Bytes are buffered up to the chunk size and emitted as <hex-size>\r\n<payload>\r\n.
// Close emits the terminal chunk exactly once.
type ChunkedWriter struct {
	w         io.Writer
	buf       []byte
	chunkSize int
	head      []byte
	trailer   Header
	closed    bool
}

// NewChunkedWriter returns an encoder writing to w.
// chunkSize <= 0 uses DefaultChunkSize.
func NewChunkedWriter(w io.Writer, chunkSize int) *ChunkedWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedWriter{
		w:         w,
		buf:       make([]byte, 0, chunkSize),
		chunkSize: chunkSize,
		head:      make([]byte, 0, 18),
	}
}

// SetTrailer sets the fields sent after the terminal chunk.
func (cw *ChunkedWriter) SetTrailer(trailer Header) {
	cw.trailer = trailer
}

// Write implements io.Writer.
func (cw *ChunkedWriter) Write(p []byte) (n int, err error) {
	if cw.closed {
		return 0, Exception(ErrConnClosed, "when write chunk")
	}
	for len(p) > 0 {
		// whole chunks go straight through
		if len(cw.buf) == 0 && len(p) >= cw.chunkSize {
			if err = cw.writeChunk(p[:cw.chunkSize]); err != nil {
				return n, err
			}
			n += cw.chunkSize
			p = p[cw.chunkSize:]
			continue
		}
		m := cw.chunkSize - len(cw.buf)
		if m > len(p) {
			m = len(p)
		}
		cw.buf = append(cw.buf, p[:m]...)
		n += m
		p = p[m:]
		if len(cw.buf) == cw.chunkSize {
			if err = cw.flushChunk(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush emits the buffered bytes as a chunk and flushes w when it supports it.
func (cw *ChunkedWriter) Flush() error {
	if cw.closed {
		return nil
	}
	if err := cw.flushChunk(); err != nil {
		return err
	}
	if f, ok := cw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close emits the pending chunk, the terminal chunk and the trailer.
// It does not close w, and a second call is a no-op.
func (cw *ChunkedWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	if err := cw.flushChunk(); err != nil {
		return err
	}
	// an invalid trailer must not leave a terminal chunk behind
	if err := cw.trailer.validate(); err != nil {
		return err
	}
	if err := cw.write(bytesFinalChunk); err != nil {
		return err
	}
	if _, err := cw.trailer.WriteTo(cw.w); err != nil {
		return err
	}
	return cw.write(bytesCRLF)
}

func (cw *ChunkedWriter) flushChunk() error {
	if len(cw.buf) == 0 {
		return nil
	}
	err := cw.writeChunk(cw.buf)
	cw.buf = cw.buf[:0]
	return err
}

func (cw *ChunkedWriter) writeChunk(data []byte) error {
	// zero-length data would look like the terminal chunk
	if len(data) == 0 {
		return nil
	}
	cw.head = strconv.AppendInt(cw.head[:0], int64(len(data)), 16)
	cw.head = append(cw.head, '\r', '\n')
	if err := cw.write(cw.head); err != nil {
		return err
	}
	if err := cw.write(data); err != nil {
		return err
	}
	return cw.write(bytesCRLF)
}

func (cw *ChunkedWriter) write(p []byte) error {
	n, err := cw.w.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	return err
}
