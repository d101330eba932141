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
	"net"
	"time"
)

// CloseCallback will be called after the connection is closed.
// Return: error is unused which will be ignored directly.
type CloseCallback func(connection Connection) error

// Connection supports reading and writing through its two ways.
//
// Read and Write behave like net.Conn, blocking the calling goroutine while the
// underlying non-blocking socket is not ready. The event loop only reports
// readiness, bytes are always moved by the goroutine owning the way.
type Connection interface {
	// Connection extends net.Conn just for interface compatibility.
	// Its Read and Write go through the inbound and outbound buffers.
	net.Conn

	// Inbound returns the way receiving messages.
	Inbound() *InboundWay

	// Outbound returns the way sending messages.
	Outbound() *OutboundWay

	// IsActive checks whether the connection is active or not.
	IsActive() bool

	// State returns the life cycle state of the connection.
	State() ConnectionState

	// SetReadTimeout sets the timeout for future blocking reads.
	// Set 0 means infinity.
	SetReadTimeout(timeout time.Duration) error

	// SetWriteTimeout sets the timeout for future blocking writes.
	// Set 0 means infinity.
	SetWriteTimeout(timeout time.Duration) error

	// SetIdleTimeout sets how long a connection may wait for its next message.
	// Set 0 means infinity.
	SetIdleTimeout(timeout time.Duration) error

	// SetOnRequest can set or replace the OnRequest method for a connection, but can't be set to nil.
	// Although SetOnRequest avoids data race, it should still be used before transmitting data.
	// Replacing OnRequest while processing data may cause unexpected behavior and results.
	// Generally, the server side should uniformly set the OnRequest method for each connection via NewEventLoop,
	// which is set when the connection is initialized.
	// On the client side, if necessary, make sure that OnRequest is set before sending data.
	SetOnRequest(on OnRequest) error

	// AddCloseCallback can add hangup callback for a connection, which will be called when connection closing.
	// This is very useful for cleaning up idle connections. For instance, you can use callbacks to clean up
	// the local resources, which bound to the idle connection, when hangup by the peer. No need another goroutine
	// to polling check connection status.
	AddCloseCallback(callback CloseCallback) error
}

// ConnectionState is the life cycle of a connection.
type ConnectionState int32

const (
	ConnOpening ConnectionState = iota
	ConnOpen
	ConnClosing
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnOpening:
		return "OPENING"
	case ConnOpen:
		return "OPEN"
	case ConnClosing:
		return "CLOSING"
	case ConnClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}
