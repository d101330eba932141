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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package netway

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestKqueueOneShot(t *testing.T) {
	kqfd, err := unix.Kqueue()
	MustNil(t, err)
	defer unix.Close(kqfd)

	rfd, wfd := GetSysFdPairs()
	defer unix.Close(rfd)
	defer unix.Close(wfd)

	// add one-shot read event
	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], rfd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	_, err = unix.Kevent(kqfd, changes, nil, nil)
	MustNil(t, err)

	send := []byte("hello")
	recv := make([]byte, 5)
	_, err = unix.Write(wfd, send)
	MustNil(t, err)

	// check readable
	events := make([]unix.Kevent_t, 128)
	n, err := unix.Kevent(kqfd, nil, events, nil)
	MustNil(t, err)
	Equal(t, n, 1)
	Assert(t, events[0].Filter == unix.EVFILT_READ)

	// the filter is gone once fired, even with bytes pending
	n, err = unix.Kevent(kqfd, nil, events, &unix.Timespec{Nsec: 100 * 1e6})
	MustNil(t, err)
	Equal(t, n, 0)
	_, err = unix.Read(rfd, recv)
	MustNil(t, err)
	Equal(t, string(recv), string(send))

	// deleting a fired one-shot filter fails, so detach skips it
	unix.SetKevent(&changes[0], rfd, unix.EVFILT_READ, unix.EV_DELETE)
	_, err = unix.Kevent(kqfd, changes, nil, nil)
	MustTrue(t, err != nil)
}
