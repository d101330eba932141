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
	"golang.org/x/sys/unix"
)

// accept wraps the accept system call that marks the returned file
// descriptor as nonblocking and close-on-exec.
func accept(s int) (int, unix.Sockaddr, error) {
	ns, sa, err := unix.Accept4(s, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	// On Linux the accept4 system call was introduced in 2.6.28
	// kernel. If we get an ENOSYS error, or EINVAL on some kernels,
	// fall back to using accept.
	switch err {
	case nil:
		return ns, sa, nil
	default: // errors other than the ones listed
		return -1, sa, err
	case unix.ENOSYS: // syscall missing
	case unix.EINVAL: // some Linux use this instead of ENOSYS
	case unix.EACCES: // some Linux use this instead of ENOSYS
	case unix.EFAULT: // some Linux use this instead of ENOSYS
	}

	ns, sa, err = unix.Accept(s)
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
