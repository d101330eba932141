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
)

// SizedReader reads exactly size bytes of an entity framed by Content-Length.
type SizedReader struct {
	r         io.Reader
	remaining int64
}

func NewSizedReader(r io.Reader, size int64) *SizedReader {
	return &SizedReader{r: r, remaining: size}
}

// Remaining returns the bytes left to read.
func (sr *SizedReader) Remaining() int64 {
	return sr.remaining
}

// Read implements io.Reader.
func (sr *SizedReader) Read(p []byte) (n int, err error) {
	if sr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > sr.remaining {
		p = p[:sr.remaining]
	}
	n, err = sr.r.Read(p)
	sr.remaining -= int64(n)
	if err == io.EOF {
		if sr.remaining > 0 {
			return n, Exception(ErrUnexpectedEOF, fmt.Sprintf("with %d bytes missing", sr.remaining))
		}
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// Close closes the wrapped stream when it is an io.Closer.
func (sr *SizedReader) Close() error {
	if c, ok := sr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SizedWriter writes an entity framed by Content-Length, rejecting any byte past it.
type SizedWriter struct {
	w         io.Writer
	remaining int64
}

func NewSizedWriter(w io.Writer, size int64) *SizedWriter {
	return &SizedWriter{w: w, remaining: size}
}

// Write implements io.Writer.
func (sw *SizedWriter) Write(p []byte) (n int, err error) {
	over := int64(len(p)) > sw.remaining
	if over {
		p = p[:sw.remaining]
	}
	if len(p) > 0 {
		n, err = sw.w.Write(p)
		sw.remaining -= int64(n)
		if err != nil {
			return n, err
		}
	}
	if over {
		return n, Exception(ErrContentLength, "when write past the declared length")
	}
	return n, nil
}

// Close reports the bytes still expected, it does not close the wrapped stream.
func (sw *SizedWriter) Close() error {
	if sw.remaining > 0 {
		return Exception(ErrContentLength, fmt.Sprintf("with %d bytes missing", sw.remaining))
	}
	return nil
}
