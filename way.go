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
	"sync/atomic"
)

// IoState tracks the readiness of a way's channel.
type IoState int32

const (
	// IoIdle means no interest is registered.
	IoIdle IoState = iota
	// IoInterest means the way waits for the poller to report readiness.
	IoInterest
	// IoReady means the poller reported readiness and the way has not used it yet.
	IoReady
	// IoProcessing means bytes are moving between the buffer and the channel.
	IoProcessing
	// IoCancelled means the way gave up, the connection is closing.
	IoCancelled
)

func (s IoState) String() string {
	switch s {
	case IoIdle:
		return "IDLE"
	case IoInterest:
		return "INTEREST"
	case IoReady:
		return "READY"
	case IoProcessing:
		return "PROCESSING"
	case IoCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// MessageState tracks the progress of the message a way is moving.
type MessageState int32

const (
	MessageIdle MessageState = iota
	MessageStart
	MessageHeaders
	MessageBody
	MessageEnd
)

func (s MessageState) String() string {
	switch s {
	case MessageIdle:
		return "IDLE"
	case MessageStart:
		return "START"
	case MessageHeaders:
		return "HEADERS"
	case MessageBody:
		return "BODY"
	case MessageEnd:
		return "END"
	}
	return "UNKNOWN"
}

// way is the part shared by both directions of a connection.
type way struct {
	conn         *connection
	buffer       *Buffer
	ioState      int32 // IoState
	messageState int32 // MessageState
	header       Header
}

func (w *way) init(c *connection, size int) {
	w.conn = c
	w.buffer = NewBuffer(size)
}

// Buffer returns the byte buffer of the way.
func (w *way) Buffer() *Buffer {
	return w.buffer
}

// IoState returns the channel state.
func (w *way) IoState() IoState {
	return IoState(atomic.LoadInt32(&w.ioState))
}

func (w *way) setIoState(s IoState) {
	if old := IoState(atomic.SwapInt32(&w.ioState, int32(s))); old != s {
		trace(w.conn, "io %s -> %s", old, s)
	}
}

// MessageState returns the progress of the current message.
func (w *way) MessageState() MessageState {
	return MessageState(atomic.LoadInt32(&w.messageState))
}

func (w *way) setMessageState(s MessageState) {
	atomic.StoreInt32(&w.messageState, int32(s))
}

// waitIo registers interest through wait and records the transitions around it.
func (w *way) waitIo(wait func() error) error {
	w.setIoState(IoInterest)
	if err := wait(); err != nil {
		w.setIoState(IoCancelled)
		return err
	}
	w.setIoState(IoReady)
	return nil
}

func (w *way) release() {
	if w.buffer != nil {
		w.buffer.Release()
	}
	w.header = nil
	w.setIoState(IoCancelled)
}
