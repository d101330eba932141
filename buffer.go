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

// BufferState is the IO state of a Buffer, also reused by line builders.
type BufferState int32

const (
	BufferIdle BufferState = iota
	BufferFilling
	BufferFilled
	BufferDraining
)

func (s BufferState) String() string {
	switch s {
	case BufferIdle:
		return "IDLE"
	case BufferFilling:
		return "FILLING"
	case BufferFilled:
		return "FILLED"
	case BufferDraining:
		return "DRAINING"
	}
	return fmt.Sprintf("BufferState(%d)", int32(s))
}

// ReadableChannel is a non-blocking byte source.
// Read returns 0, nil when no byte is ready yet and io.EOF once the source has ended.
type ReadableChannel interface {
	Read(p []byte) (n int, err error)
}

// WritableChannel is a non-blocking byte sink.
// Write returns 0, nil when the sink cannot accept more bytes yet.
type WritableChannel interface {
	Write(p []byte) (n int, err error)
}

// Buffer wraps a fixed-capacity byte region and its fill/drain state.
//
// While filling, unread bytes live in [begin, pos) and free capacity in [pos, limit).
// While draining, unread bytes live in [pos, limit).
// A Buffer is not safe for concurrent use, it is owned by the task servicing its way.
type Buffer struct {
	raw   []byte // memory from mcache, kept to free it with its real capacity
	bytes []byte
	begin int
	pos   int
	limit int
	state BufferState
}

// NewBuffer allocates a buffer in filling state.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	raw := malloc(size, size)
	b := &Buffer{raw: raw, bytes: raw[:size]}
	b.Clear()
	return b
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.bytes)
}

// Len returns the number of bytes filled and not yet drained.
func (b *Buffer) Len() int {
	if b.state == BufferDraining {
		return b.limit - b.pos
	}
	return b.pos - b.begin
}

// IsEmpty reports whether no byte is in flight.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Remaining returns the free capacity while filling or the unread bytes while draining.
func (b *Buffer) Remaining() int {
	return b.limit - b.pos
}

// State returns the current mode.
func (b *Buffer) State() BufferState {
	return b.state
}

func (b *Buffer) IsFilling() bool {
	return b.state == BufferFilling
}

func (b *Buffer) IsDraining() bool {
	return b.state == BufferDraining
}

// CanFill reports whether bytes can be filled in right now.
func (b *Buffer) CanFill() bool {
	return b.IsFilling() && b.Remaining() > 0
}

// CanDrain reports whether bytes can be drained right now.
func (b *Buffer) CanDrain() bool {
	return b.IsDraining() && b.Remaining() > 0
}

// CouldFill reports whether flipping a draining buffer would offer free capacity.
func (b *Buffer) CouldFill() bool {
	return b.IsDraining() && (b.Remaining() == 0 || b.limit < len(b.bytes) || b.pos > 0)
}

// CouldDrain reports whether flipping a filling buffer would expose bytes.
func (b *Buffer) CouldDrain() bool {
	return b.IsFilling() && b.pos > b.begin
}

// CanCompact reports whether consumed bytes sit before the unread ones.
func (b *Buffer) CanCompact() bool {
	if b.IsDraining() {
		return b.pos > 0
	}
	return b.begin > 0
}

// Clear recycles the buffer, dropping any byte in flight.
func (b *Buffer) Clear() {
	b.begin, b.pos, b.limit = 0, 0, len(b.bytes)
	b.state = BufferFilling
}

// Release returns the memory, the buffer must not be used afterwards.
func (b *Buffer) Release() {
	if b.raw != nil {
		free(b.raw)
	}
	b.raw, b.bytes = nil, nil
	b.begin, b.pos, b.limit = 0, 0, 0
	b.state = BufferIdle
}

// Flip switches between filling and draining, keeping every unread byte.
func (b *Buffer) Flip() {
	switch b.state {
	case BufferFilling:
		b.state = BufferDraining
		b.limit = b.pos
		b.pos = b.begin
		b.begin = 0
	case BufferDraining:
		if b.Remaining() == 0 {
			b.Clear()
			return
		}
		b.state = BufferFilling
		b.begin = b.pos
		b.pos = b.limit
		b.limit = len(b.bytes)
	}
}

// BeforeDrain flips only if the buffer is filling.
func (b *Buffer) BeforeDrain() {
	if b.IsFilling() {
		b.Flip()
	}
}

// BeforeFill flips only if the buffer is draining, then compacts unread bytes
// to the start so that the whole free capacity is contiguous.
func (b *Buffer) BeforeFill() {
	if b.IsDraining() {
		b.Flip()
	}
	if b.CanCompact() {
		b.Compact()
	}
}

// Compact moves the unread bytes to the beginning of the region.
func (b *Buffer) Compact() {
	switch b.state {
	case BufferDraining:
		n := copy(b.bytes, b.bytes[b.pos:b.limit])
		b.pos, b.limit = 0, n
	case BufferFilling:
		n := copy(b.bytes, b.bytes[b.begin:b.pos])
		b.begin, b.pos = 0, n
	}
}

// Fill appends as many bytes of p as the free capacity allows.
func (b *Buffer) Fill(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !b.CanFill() {
		return 0, Exception(ErrBufferOverflow, fmt.Sprintf("when fill %d bytes into %s", len(p), b))
	}
	n = copy(b.bytes[b.pos:b.limit], p)
	b.pos += n
	return n, nil
}

// FillString is Fill for strings.
func (b *Buffer) FillString(s string) (n int, err error) {
	if len(s) == 0 {
		return 0, nil
	}
	if !b.CanFill() {
		return 0, Exception(ErrBufferOverflow, fmt.Sprintf("when fill %d bytes into %s", len(s), b))
	}
	n = copy(b.bytes[b.pos:b.limit], s)
	b.pos += n
	return n, nil
}

// FillFrom performs one read from the channel into the free capacity.
// It returns 0, nil when the channel is not ready and io.EOF when it has ended.
func (b *Buffer) FillFrom(ch ReadableChannel) (n int, err error) {
	if !b.CanFill() {
		return 0, Exception(ErrBufferOverflow, "when fill from channel into "+b.String())
	}
	n, err = ch.Read(b.bytes[b.pos:b.limit])
	if n > 0 {
		b.pos += n
	}
	if n > 0 && err == io.EOF {
		// report the end on the next call
		err = nil
	}
	return n, err
}

// Drain copies up to len(p) unread bytes into p.
func (b *Buffer) Drain(p []byte) (n int) {
	if !b.IsDraining() {
		return 0
	}
	n = copy(p, b.bytes[b.pos:b.limit])
	b.pos += n
	return n
}

// DrainByte drains the next byte.
func (b *Buffer) DrainByte() (c byte, ok bool) {
	if !b.CanDrain() {
		return 0, false
	}
	c = b.bytes[b.pos]
	b.pos++
	return c, true
}

// Peek returns the unread bytes without draining them, valid until the next mutation.
func (b *Buffer) Peek() []byte {
	if !b.IsDraining() {
		return b.bytes[b.begin:b.pos]
	}
	return b.bytes[b.pos:b.limit]
}

// Skip drains n bytes without copying them.
func (b *Buffer) Skip(n int) int {
	if !b.IsDraining() {
		return 0
	}
	if r := b.Remaining(); n > r {
		n = r
	}
	b.pos += n
	return n
}

// DrainTo performs one write of the unread bytes on the channel.
func (b *Buffer) DrainTo(ch WritableChannel) (n int, err error) {
	if !b.CanDrain() {
		return 0, nil
	}
	n, err = ch.Write(b.bytes[b.pos:b.limit])
	if n > 0 {
		b.pos += n
	}
	return n, err
}

// DrainLine drains bytes into line until a CRLF is met.
//
// The builder state moves Idle -> Filling (collecting) -> Filled (CR seen) -> Draining (line complete).
// When the buffer runs dry before the line completes, the state is returned unchanged
// so that the call can be resumed after a refill.
func (b *Buffer) DrainLine(line []byte, state BufferState) ([]byte, BufferState, error) {
	if !b.IsDraining() {
		return line, state, nil
	}
	if state == BufferIdle {
		state = BufferFilling
	}
	for state != BufferDraining && b.pos < b.limit {
		c := b.bytes[b.pos]
		b.pos++
		switch state {
		case BufferFilling:
			if c == '\r' {
				state = BufferFilled
			} else {
				line = append(line, c)
			}
		case BufferFilled:
			if c != '\n' {
				return line, state, Exception(ErrMalformedMessage,
					fmt.Sprintf("missing line feed at the end of the line, found %q instead", c))
			}
			state = BufferDraining
		}
	}
	return line, state, nil
}

// BufferProcessor is called back by Buffer.Process.
type BufferProcessor interface {
	// CanLoop reports whether processing may continue.
	CanLoop(b *Buffer, args ...interface{}) bool
	// CouldFill reports whether the filling source may still provide bytes.
	CouldFill(b *Buffer, args ...interface{}) bool
	// OnFill fills the buffer, returning the number of bytes added.
	OnFill(b *Buffer, args ...interface{}) (int, error)
	// OnDrain drains the buffer, returning the number of bytes consumed.
	OnDrain(b *Buffer, args ...interface{}) (int, error)
}

// Process alternates draining and filling until neither makes progress.
// It returns the number of bytes drained, or -1 if nothing was drained and
// the processor cannot fill anymore.
func (b *Buffer) Process(p BufferProcessor, args ...interface{}) (totalDrained int, err error) {
	if !p.CouldFill(b, args...) && !b.CanDrain() && !b.CouldDrain() {
		return -1, nil
	}
	var drained, filled int
	var lastDrainFailed, lastFillFailed bool
	for p.CanLoop(b, args...) {
		if b.IsDraining() {
			drained = 0
			if b.Remaining() > 0 {
				if drained, err = p.OnDrain(b, args...); err != nil {
					return totalDrained, err
				}
			}
			if drained > 0 {
				totalDrained += drained
				lastDrainFailed, lastFillFailed = false, false
			} else if !lastFillFailed && b.CouldFill() && p.CouldFill(b, args...) {
				lastDrainFailed = true
				b.BeforeFill()
			} else {
				break
			}
		} else if b.IsFilling() {
			filled = 0
			if b.Remaining() > 0 || b.CanCompact() {
				if b.Remaining() == 0 {
					b.Compact()
				}
				if filled, err = p.OnFill(b, args...); err != nil && err != io.EOF {
					return totalDrained, err
				}
			}
			if filled > 0 {
				lastDrainFailed, lastFillFailed = false, false
			} else if !lastDrainFailed && b.CouldDrain() {
				lastFillFailed = true
				b.BeforeDrain()
			} else {
				break
			}
			if err == io.EOF {
				b.BeforeDrain()
				err = nil
			}
		} else {
			break
		}
	}
	if totalDrained == 0 && !p.CouldFill(b, args...) {
		totalDrained = -1
	}
	return totalDrained, nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[pos=%d lim=%d cap=%d begin=%d] | %s", b.pos, b.limit, len(b.bytes), b.begin, b.state)
}
