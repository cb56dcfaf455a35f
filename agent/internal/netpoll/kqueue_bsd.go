//go:build darwin || dragonfly || freebsd

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

// kqueuePoller implements Poller on top of kqueue, adapted directly from
// core/internal/netpoll/kqueue_optimized_poller.go in the teacher: the same
// EVFILT_USER "note" trick wakes a blocked kevent wait from any goroutine,
// collapsed here to the agent's plain readiness-key surface instead of the
// teacher's per-fd PollAttachment callback.
type kqueuePoller struct {
	fd         int
	wakeupCall int32
	keys       map[int]int // fd -> key
}

var wakeNote = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// Open instantiates a kqueue-backed poller.
func Open() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}

	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}

	return &kqueuePoller{fd: fd, keys: make(map[int]int)}, nil
}

func (p *kqueuePoller) Add(fd int, ev Event) error {
	p.keys[fd] = ev.Key
	return p.setFilters(fd, ev)
}

func (p *kqueuePoller) Modify(fd int, ev Event) error {
	p.keys[fd] = ev.Key
	return p.setFilters(fd, ev)
}

func (p *kqueuePoller) setFilters(fd int, ev Event) error {
	changes := make([]unix.Kevent_t, 0, 2)
	readFlag := uint16(unix.EV_DELETE)
	if ev.Readable {
		readFlag = unix.EV_ADD
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlag})

	writeFlag := uint16(unix.EV_DELETE)
	if ev.Writable {
		writeFlag = unix.EV_ADD
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlag})

	_, err := unix.Kevent(p.fd, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func (p *kqueuePoller) Delete(fd int) error {
	delete(p.keys, fd)
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent delete", err)
	}
	return nil
}

func (p *kqueuePoller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	raw := make([]unix.Kevent_t, 128)
	ts := unix.NsecToTimespec(timeout.Nanoseconds())

	n, err := unix.Kevent(p.fd, nil, raw, &ts)
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, os.NewSyscallError("kevent wait", err)
	}

	readable := make(map[int]bool)
	writable := make(map[int]bool)
	var order []int

	for i := 0; i < n; i++ {
		ev := &raw[i]
		if ev.Ident == 0 && ev.Filter == unix.EVFILT_USER {
			atomic.StoreInt32(&p.wakeupCall, 0)
			continue
		}
		fd := int(ev.Ident)
		if _, seen := readable[fd]; !seen {
			if _, seen = writable[fd]; !seen {
				order = append(order, fd)
			}
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			readable[fd] = true
		case unix.EVFILT_WRITE:
			writable[fd] = true
		}
		if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			readable[fd] = true
			writable[fd] = true
		}
	}

	for _, fd := range order {
		key, ok := p.keys[fd]
		if !ok {
			continue
		}
		events = append(events, Event{Key: key, Readable: readable[fd], Writable: writable[fd]})
	}
	return events, nil
}

func (p *kqueuePoller) Notify() error {
	if !atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		return nil
	}
	_, err := unix.Kevent(p.fd, wakeNote, nil, nil)
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("kevent trigger", err)
	}
	return nil
}

func (p *kqueuePoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}
