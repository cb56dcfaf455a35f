//go:build linux || freebsd || dragonfly || darwin

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

package engine

import (
	"io"
	"net"
	"os"
	"syscall"
	"time"

	perrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// errWouldBlock is returned by pollableConn's Read/Write in place of
// syscall.EAGAIN, so callers can compare against one sentinel regardless
// of the underlying errno type.
var errWouldBlock = perrors.New("engine: operation would block")

// pollableConn is a raw, non-blocking duplicate of a dialed TCP
// connection's file descriptor. Grounded directly on core/engine.go's
// Dial: establish the connection the ordinary blocking way, then duplicate
// its fd and flip it non-blocking so the agent's poller — not this
// goroutine — owns waiting for it to become ready.
type pollableConn struct {
	fd     int
	local  net.Addr
	remote net.Addr
}

// dial connects to addr (host:port) with the given timeout and returns a
// pollableConn wrapping a duplicated, non-blocking, TCP_NODELAY fd. The
// dial itself is a blocking call, same as the teacher's net.DialTimeout;
// callers run it on its own goroutine rather than the agent goroutine.
func dial(addr string, timeout time.Duration) (*pollableConn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, perrors.Wrapf(err, "dial %s", addr)
	}
	defer c.Close()

	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, perrors.New("engine: connection does not support SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, perrors.Wrap(err, "engine: obtain raw conn")
	}

	var dupFD int
	var dupErr error
	if ctrlErr := rc.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	}); ctrlErr != nil {
		return nil, perrors.Wrap(ctrlErr, "engine: control raw conn")
	}
	if dupErr != nil {
		return nil, perrors.Wrap(dupErr, "engine: dup fd")
	}

	if err := unix.SetsockoptInt(dupFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		_ = unix.Close(dupFD)
		return nil, os.NewSyscallError("setsockopt nodelay", err)
	}
	if err := unix.SetNonblock(dupFD, true); err != nil {
		_ = unix.Close(dupFD)
		return nil, os.NewSyscallError("fcntl nonblock", err)
	}

	return &pollableConn{fd: dupFD, local: c.LocalAddr(), remote: c.RemoteAddr()}, nil
}

// Read performs one non-blocking read, translating EAGAIN into
// errWouldBlock and a zero-byte result into io.EOF (connection closed).
func (c *pollableConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, errWouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write performs one non-blocking write, translating EAGAIN into
// errWouldBlock.
func (c *pollableConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *pollableConn) Close() error {
	return unix.Close(c.fd)
}
