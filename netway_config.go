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
	"context"
	"io"
)

// global config
var (
	defaultBufferSize = pagesize
	defaultChunkSize  = DefaultChunkSize
)

// Config expose some tuning parameters to control the internal behaviors of netway.
// Every parameter with the default zero value should keep the default behavior of netway.
type Config struct {
	PollerNum    int                                 // number of pollers
	BufferSize   int                                 // default size of a new way's Buffer
	ChunkSize    int                                 // default size of an outbound chunk
	Runner       func(ctx context.Context, f func()) // runner for event handler, most of the time use a goroutine pool.
	LoggerOutput io.Writer                           // logger output
	LoadBalance  LoadBalance                         // load balance for poller picker
	Trace        bool                                // log every connection, io and message transition
}
