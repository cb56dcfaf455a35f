//go:build linux

// Copyright (c) 2022 The reqagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package netpoll

import (
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller on top of epoll, waking itself via an
// eventfd the same way the teacher's kqueue poller uses an EVFILT_USER
// note to interrupt an in-progress kevent wait.
//
// The epoll_event data union is not laid out identically across
// architectures in golang.org/x/sys/unix, so rather than packing the
// registration key into it we keep our own fd->key map; this is the
// portable choice and costs nothing since registrations are rare compared
// to readiness events.
type epollPoller struct {
	fd         int
	notifyFd   int
	wakeupCall int32
	events     []unix.EpollEvent
	keys       map[int32]int
}

// Open instantiates an epoll-backed poller.
func Open() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	notifyFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, notifyFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(notifyFd),
	}); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(notifyFd)
		return nil, os.NewSyscallError("epoll_ctl add notify", err)
	}

	return &epollPoller{
		fd:       fd,
		notifyFd: notifyFd,
		events:   make([]unix.EpollEvent, 128),
		keys:     make(map[int32]int),
	}, nil
}

func eventMask(ev Event) uint32 {
	var mask uint32
	if ev.Readable {
		mask |= unix.EPOLLIN
	}
	if ev.Writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) Add(fd int, ev Event) error {
	p.keys[int32(fd)] = ev.Key
	return os.NewSyscallError("epoll_ctl add", unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventMask(ev),
		Fd:     int32(fd),
	}))
}

func (p *epollPoller) Modify(fd int, ev Event) error {
	p.keys[int32(fd)] = ev.Key
	return os.NewSyscallError("epoll_ctl mod", unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventMask(ev),
		Fd:     int32(fd),
	}))
}

func (p *epollPoller) Delete(fd int) error {
	delete(p.keys, int32(fd))
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}

	n, err := unix.EpollWait(p.fd, p.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &p.events[i]
		if int(ev.Fd) == p.notifyFd {
			atomic.StoreInt32(&p.wakeupCall, 0)
			drainEventfd(p.notifyFd)
			continue
		}
		key, ok := p.keys[ev.Fd]
		if !ok {
			continue
		}
		events = append(events, Event{
			Key:      key,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return events, nil
}

func (p *epollPoller) Notify() error {
	if !atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.notifyFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("eventfd write", err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	err0 := unix.Close(p.notifyFd)
	err1 := unix.Close(p.fd)
	if err1 != nil {
		return os.NewSyscallError("close", err1)
	}
	if err0 != nil {
		return os.NewSyscallError("close", err0)
	}
	return nil
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}
