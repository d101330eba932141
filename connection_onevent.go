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
	"context"
	"runtime/debug"
	"sync/atomic"

	"github.com/cloudwego/netway/internal/runner"
)

// ------------------------------------ implement OnPrepare, OnRequest, CloseCallback ------------------------------------

type gracefulExit interface {
	isIdle() (yes bool)

	Close() (err error)
}

// onEvent is the collection of event processing.
// OnPrepare, OnRequest, CloseCallback share the lock processing,
// which is a CAS lock and can only be cleared by OnRequest.
type onEvent struct {
	ctx       context.Context
	connect   atomic.Value // value is OnConnect
	process   atomic.Value // value is OnRequest
	callbacks atomic.Value // value is latest *callbackNode
}

type callbackNode struct {
	fn  CloseCallback
	pre *callbackNode
}

// SetOnRequest stores onReq, an open connection getting its first handler is registered at once.
func (c *connection) SetOnRequest(onReq OnRequest) error {
	if onReq == nil {
		return nil
	}
	first := c.process.Load() == nil
	c.process.Store(onReq)
	if first && c.State() == ConnOpen {
		c.register()
	}
	return nil
}

// AddCloseCallback adds a CloseCallback to this connection.
func (on *onEvent) AddCloseCallback(callback CloseCallback) error {
	if callback == nil {
		return nil
	}
	var cb = &callbackNode{}
	cb.fn = callback
	if pre := on.callbacks.Load(); pre != nil {
		cb.pre = pre.(*callbackNode)
	}
	on.callbacks.Store(cb)
	return nil
}

// onPrepare supports close connection, but not read/write data.
// connection will be registered by this call after preparing.
func (c *connection) onPrepare(opts *options) (err error) {
	if opts.onRequest != nil {
		c.SetOnRequest(opts.onRequest)
	}
	if opts.onConnect != nil {
		c.connect.Store(opts.onConnect)
	}
	if opts.onDisconnect != nil {
		onDisconnect := opts.onDisconnect
		c.AddCloseCallback(func(connection Connection) error {
			onDisconnect(c.ctx, connection)
			return nil
		})
	}
	// calling prepare first and then register.
	if opts.onPrepare != nil {
		c.ctx = opts.onPrepare(c)
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	// prepare may close the connection.
	if c.IsActive() {
		c.setState(ConnOpen)
	}
	return nil
}

// onConnect runs OnConnect in the task, then keeps serving like onRequest.
func (c *connection) onConnect() {
	var connect, _ = c.connect.Load().(OnConnect)
	if connect == nil {
		c.register()
		return
	}
	if !c.lock(processing) {
		return
	}
	runner.RunTask(c.ctx, func() {
		c.serve(connect)
	})
}

// onRequest is also responsible for executing the callbacks after the connection has been closed.
func (c *connection) onRequest() (err error) {
	if c.process.Load() == nil {
		return nil
	}
	// task already exists
	if !c.lock(processing) {
		return nil
	}
	runner.RunTask(c.ctx, func() {
		c.serve(nil)
	})
	return nil
}

// serve is the task body, it must be called with processing locked.
// It runs connect first if set, then OnRequest while input is available,
// then releases the goroutine and re-arms read interest.
func (c *connection) serve(connect OnConnect) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("NETWAY: panic in connection task: %v\n%s", r, debug.Stack())
			c.Close()
			c.closeCallback(false)
		}
	}()
	c.stopIdleTimer()
	if connect != nil {
		if c.ctx = connect(c.ctx, c); c.ctx == nil {
			c.ctx = context.Background()
		}
	}
	var handler, _ = c.process.Load().(OnRequest)
START:
	// NOTE: loop processing, which is useful for pipelining.
	for handler != nil && c.IsActive() && c.inbound.hasInput() {
		// Single request processing, blocking allowed.
		handler(c.ctx, c)
	}
	// Handling callback if connection has been closed.
	if !c.IsActive() {
		c.closeCallback(false)
		return
	}
	// Double check when exiting.
	c.unlock(processing)
	if handler == nil {
		// without OnRequest the user drives the connection
		return
	}
	if c.inbound.Buffered() > 0 {
		if !c.lock(processing) {
			return
		}
		goto START
	}
	// arm after unlock, so that the next readiness event can start a task
	c.armIdle()
}

// closeCallback .
// It can be confirmed that closeCallback and onRequest will not be executed concurrently.
// If onRequest is still running, it will trigger closeCallback on exit.
func (c *connection) closeCallback(needLock bool) (err error) {
	if needLock && !c.lock(processing) {
		return nil
	}
	var latest = c.callbacks.Load()
	if latest == nil {
		return nil
	}
	for callback := latest.(*callbackNode); callback != nil; callback = callback.pre {
		callback.fn(c)
	}
	return nil
}

// register arms the first read interest of a server connection.
func (c *connection) register() {
	if c.process.Load() == nil {
		return
	}
	c.armIdle()
}

// isIdle implements gracefulExit.
func (c *connection) isIdle() (yes bool) {
	return c.isUnlock(processing) && c.inbound.Buffered() == 0
}
