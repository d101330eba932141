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

var tracing int32

func setTrace(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&tracing, v)
}

func trace(c *connection, format string, args ...interface{}) {
	if atomic.LoadInt32(&tracing) == 0 {
		return
	}
	if c != nil {
		format = "NETWAY: rip=%s://%v, fd=%d - " + format
		v := make([]interface{}, 0, 3+len(args))
		v = append(v, c.network, c.remoteAddr, c.fd)
		v = append(v, args...)
		args = v
	} else {
		format = "NETWAY: " + format
	}
	logger.Printf(format, args...)
}
