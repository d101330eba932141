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
)

// RangeReader exposes only the bytes of a Range of the wrapped stream.
type RangeReader struct {
	r         io.Reader
	skip      int64 // bytes still to discard before the range starts
	remaining int64 // bytes still to deliver, UnknownSize for the whole tail
	tail      []byte
	tailSize  int64
}

// NewRangeReader returns a reader of the bytes rng selects in r, whose size is totalSize
// or UnknownSize.
//
// A range that starts at or past the end, or selects no byte, yields io.EOF at once.
// A suffix range over a stream of unknown size keeps the last rng.Size bytes while reading.
func NewRangeReader(r io.Reader, totalSize int64, rng Range) *RangeReader {
	rr := &RangeReader{r: r}
	switch {
	case rng.Size == 0:
		rr.remaining = 0
	case totalSize < 0 && rng.Index == IndexLast:
		rr.tailSize, rr.remaining = rng.Size, UnknownSize
	default:
		rr.skip = rng.Offset(totalSize)
		rr.remaining = rng.Length(totalSize)
	}
	return rr
}

// Read implements io.Reader.
func (rr *RangeReader) Read(p []byte) (n int, err error) {
	if rr.tailSize > 0 {
		if err = rr.readTail(); err != nil {
			return 0, err
		}
	}
	if rr.remaining == 0 {
		return 0, io.EOF
	}
	if rr.tail != nil {
		n = copy(p, rr.tail)
		rr.tail = rr.tail[n:]
		rr.remaining -= int64(n)
		return n, nil
	}
	for rr.skip > 0 {
		// the source may skip less than asked, so discard until done
		m, err := io.CopyN(io.Discard, rr.r, rr.skip)
		rr.skip -= m
		if err == io.EOF {
			rr.remaining, rr.skip = 0, 0
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
	}
	if rr.remaining > 0 && int64(len(p)) > rr.remaining {
		p = p[:rr.remaining]
	}
	n, err = rr.r.Read(p)
	if rr.remaining > 0 {
		rr.remaining -= int64(n)
		if rr.remaining == 0 && err == nil {
			return n, nil
		}
	}
	return n, err
}

// readTail reads the whole source keeping its last tailSize bytes.
// The window grows with the bytes actually read and never exceeds tailSize.
func (rr *RangeReader) readTail() error {
	var tail []byte
	chunk := make([]byte, pagesize)
	for {
		n, err := rr.r.Read(chunk)
		if n > 0 {
			tail = appendTail(tail, chunk[:n], rr.tailSize)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	rr.tail, rr.remaining, rr.tailSize = tail, int64(len(tail)), 0
	return nil
}

// appendTail appends p to tail and drops the oldest bytes beyond size.
func appendTail(tail, p []byte, size int64) []byte {
	if int64(len(p)) >= size {
		return append(tail[:0], p[int64(len(p))-size:]...)
	}
	if over := int64(len(tail)+len(p)) - size; over > 0 {
		tail = append(tail[:0], tail[over:]...)
	}
	return append(tail, p...)
}

// Close closes the wrapped stream when it is an io.Closer.
func (rr *RangeReader) Close() error {
	if c, ok := rr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
