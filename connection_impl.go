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
	"time"
)

// connection is the implement of Connection
type connection struct {
	netFD
	onEvent
	locker
	operator     *FDOperator
	state        int32 // ConnectionState
	readTimeout  time.Duration
	readTimer    *time.Timer
	readTrigger  chan error
	waitingRead  int32
	writeTimeout time.Duration
	writeTimer   *time.Timer
	writeTrigger chan error
	idleTimeout  time.Duration
	idleTimer    *time.Timer
	inbound      *InboundWay
	outbound     *OutboundWay
}

var _ Connection = &connection{}

// Inbound implements Connection.
func (c *connection) Inbound() *InboundWay {
	return c.inbound
}

// Outbound implements Connection.
func (c *connection) Outbound() *OutboundWay {
	return c.outbound
}

// IsActive implements Connection.
func (c *connection) IsActive() bool {
	return c.isCloseBy(none)
}

// State implements Connection.
func (c *connection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

func (c *connection) setState(s ConnectionState) {
	atomic.StoreInt32(&c.state, int32(s))
	trace(c, "connection %s", s)
}

// SetIdleTimeout implements Connection.
func (c *connection) SetIdleTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		c.idleTimeout = timeout
	}
	return nil
}

// SetReadTimeout implements Connection.
func (c *connection) SetReadTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		c.readTimeout = timeout
	}
	return nil
}

// SetWriteTimeout implements Connection.
func (c *connection) SetWriteTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		c.writeTimeout = timeout
	}
	return nil
}

// ------------------------------------------ implement net.Conn ------------------------------------------

// Read behavior is the same as net.Conn, it returns io.EOF once the peer closed
// and every buffered byte has been read.
func (c *connection) Read(p []byte) (n int, err error) {
	return c.inbound.Read(p)
}

// Write copies p into the outbound buffer and flushes it.
func (c *connection) Write(p []byte) (n int, err error) {
	return c.outbound.writeFlush(p)
}

// Close implements Connection.
func (c *connection) Close() error {
	return c.onClose()
}

// SetDeadline implements net.Conn.
func (c *connection) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn, the deadline is kept as a timeout relative to now.
func (c *connection) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return c.SetReadTimeout(0)
	}
	return c.SetReadTimeout(time.Until(t))
}

// SetWriteDeadline implements net.Conn, the deadline is kept as a timeout relative to now.
func (c *connection) SetWriteDeadline(t time.Time) error {
	if t.IsZero() {
		return c.SetWriteTimeout(0)
	}
	return c.SetWriteTimeout(time.Until(t))
}

// ------------------------------------------ private ------------------------------------------

// init initialize the connection with options
func (c *connection) init(conn *netFD, opts *options) (err error) {
	c.setState(ConnOpening)
	c.readTrigger = make(chan error, 1)
	c.writeTrigger = make(chan error, 1)
	c.netFD = *conn
	if opts == nil {
		opts = &options{}
	}
	bufferSize, chunkSize := opts.bufferSize, opts.chunkSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	c.inbound = newInboundWay(c, bufferSize)
	c.outbound = newOutboundWay(c, bufferSize, chunkSize)
	c.readTimeout, c.writeTimeout, c.idleTimeout = opts.readTimeout, opts.writeTimeout, opts.idleTimeout

	if err = c.initFDOperator(); err != nil {
		c.inbound.release()
		c.outbound.release()
		c.netFD.Close()
		return err
	}
	c.initFinalizer()

	// connection initialized and prepare options
	return c.onPrepare(opts)
}

func (c *connection) initFDOperator() error {
	poll, err := pollmanager.Pick()
	if err != nil {
		return err
	}
	op := poll.Alloc()
	op.FD = c.fd
	op.OnRead, op.OnWrite, op.OnHup = c.onReadable, c.onWritable, c.onHup
	c.operator = op
	return nil
}

func (c *connection) initFinalizer() {
	c.AddCloseCallback(func(connection Connection) (err error) {
		c.stop(flushing)
		c.stop(reading)
		c.stopIdleTimer()
		if c.operator.isRegistered() {
			c.operator.Control(PollDetach)
		}
		c.operator.Free()
		if err = c.netFD.Close(); err != nil {
			logger.Printf("NETWAY: netFD close failed: %v", err)
		}
		c.inbound.release()
		c.outbound.release()
		c.setState(ConnClosed)
		return nil
	})
}

func (c *connection) triggerRead(err error) {
	select {
	case c.readTrigger <- err:
	default:
	}
}

func (c *connection) triggerWrite(err error) {
	select {
	case c.writeTrigger <- err:
	default:
	}
}

// closedError is returned by waits on a closed connection.
func (c *connection) closedError(suffix string) error {
	if c.isCloseBy(poller) {
		return Exception(ErrEOF, suffix)
	}
	return Exception(ErrConnClosed, suffix)
}

// waitReadable arms a one-shot read interest and blocks until the poller reports
// readiness, the read timeout expires or the connection closes.
func (c *connection) waitReadable() (err error) {
	if !c.IsActive() {
		return c.closedError("wait read")
	}
	atomic.StoreInt32(&c.waitingRead, 1)
	defer atomic.StoreInt32(&c.waitingRead, 0)
	if err = c.operator.Control(PollReadable); err != nil {
		return Exception(ErrConnClosed, err.Error())
	}
	if c.readTimeout <= 0 {
		err = <-c.readTrigger
		if err == nil && !c.IsActive() {
			err = c.closedError("wait read")
		}
		return err
	}

	// set read timeout
	if c.readTimer == nil {
		c.readTimer = time.NewTimer(c.readTimeout)
	} else {
		c.readTimer.Reset(c.readTimeout)
	}
	select {
	case err = <-c.readTrigger:
		if !c.readTimer.Stop() { // clean timer
			<-c.readTimer.C
		}
		if err == nil && !c.IsActive() {
			err = c.closedError("wait read")
		}
		return err
	case <-c.readTimer.C:
		select {
		// try fetch readTrigger if both cases fires
		case err = <-c.readTrigger:
			return err
		default:
		}
		return Exception(ErrReadTimeout, c.remoteAddrString())
	}
}

// waitWritable arms a one-shot write interest and blocks until the socket accepts
// more bytes, the write timeout expires or the connection closes.
func (c *connection) waitWritable() (err error) {
	if !c.IsActive() {
		return Exception(ErrConnClosed, "wait write")
	}
	if err = c.operator.Control(PollWritable); err != nil {
		return Exception(ErrConnClosed, err.Error())
	}
	if c.writeTimeout <= 0 {
		err = <-c.writeTrigger
		if err == nil && !c.IsActive() {
			err = Exception(ErrConnClosed, "wait write")
		}
		return err
	}

	// set write timeout
	if c.writeTimer == nil {
		c.writeTimer = time.NewTimer(c.writeTimeout)
	} else {
		c.writeTimer.Reset(c.writeTimeout)
	}
	select {
	case err = <-c.writeTrigger:
		if !c.writeTimer.Stop() { // clean timer
			<-c.writeTimer.C
		}
		if err == nil && !c.IsActive() {
			err = Exception(ErrConnClosed, "wait write")
		}
		return err
	case <-c.writeTimer.C:
		select {
		// try fetch writeTrigger if both cases fires
		case err = <-c.writeTrigger:
			return err
		default:
		}
		return Exception(ErrWriteTimeout, c.remoteAddrString())
	}
}

func (c *connection) remoteAddrString() string {
	if c.remoteAddr == nil {
		return ""
	}
	return c.remoteAddr.String()
}

// armIdle waits for the next message without holding a goroutine.
func (c *connection) armIdle() {
	if err := c.operator.Control(PollReadable); err != nil {
		logger.Printf("NETWAY: arm idle connection failed: %v", err)
		c.Close()
		return
	}
	if c.idleTimeout > 0 {
		c.idleTimer = time.AfterFunc(c.idleTimeout, c.onIdleTimeout)
	}
}

func (c *connection) stopIdleTimer() {
	if t := c.idleTimer; t != nil {
		t.Stop()
	}
}

// onIdleTimeout closes a connection that received nothing for idleTimeout.
// Holding processing keeps any task from starting meanwhile.
func (c *connection) onIdleTimeout() {
	if !c.lock(processing) {
		return
	}
	if c.inbound.Buffered() > 0 || !c.closeBy(user) {
		c.unlock(processing)
		return
	}
	trace(c, "idle timeout after %s", c.idleTimeout)
	c.setState(ConnClosing)
	c.triggerRead(nil)
	c.triggerWrite(nil)
	c.closeCallback(false)
}
