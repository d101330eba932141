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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package netway

import (
	"golang.org/x/sys/unix"
)

// accept wraps the accept system call that marks the returned file
// descriptor as nonblocking and close-on-exec.
func accept(s int) (int, unix.Sockaddr, error) {
	ns, sa, err := unix.Accept(s)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(ns)
	if err = unix.SetNonblock(ns, true); err != nil {
		unix.Close(ns)
		return -1, nil, err
	}
	return ns, sa, nil
}
