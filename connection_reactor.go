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

// ------------------------------------------ implement FDOperator ------------------------------------------

// onReadable wakes the goroutine waiting on the inbound way,
// or starts a task when the connection was idle.
func (c *connection) onReadable(p Poll) error {
	if atomic.LoadInt32(&c.waitingRead) == 1 {
		c.triggerRead(nil)
		return nil
	}
	return c.onRequest()
}

// onWritable wakes the goroutine flushing the outbound way.
func (c *connection) onWritable(p Poll) error {
	c.triggerWrite(nil)
	return nil
}

// onHup means close by poller.
func (c *connection) onHup(p Poll) error {
	c.onEOF()
	return nil
}

// onEOF marks the connection closed by the peer.
// It depends on closing by user if OnRequest is nil, otherwise the task releases it.
func (c *connection) onEOF() {
	if c.closeBy(poller) {
		c.setState(ConnClosing)
		c.triggerRead(nil)
		c.triggerWrite(nil)
		if process, _ := c.process.Load().(OnRequest); process != nil {
			c.closeCallback(true)
		}
	}
}

// onClose means close by user.
func (c *connection) onClose() error {
	if c.closeBy(user) {
		c.setState(ConnClosing)
		// the inbound entity is abandoned, pending reads return ErrConnClosed
		c.triggerRead(nil)
		c.triggerWrite(nil)
		c.closeCallback(true)
		return nil
	}
	if c.isCloseBy(poller) {
		// Connection with OnRequest of nil
		// relies on the user to actively close the connection to recycle resources.
		c.closeCallback(true)
	}
	return nil
}
