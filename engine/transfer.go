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
	"bytes"
	"fmt"
	"net/url"
	"strings"

	perrors "github.com/pkg/errors"

	"reqagent/agent"
)

// phase tracks one transfer's progress through connect, write, and read,
// mirroring the states core/connection.go steps a single proxied
// connection through.
type phase int

const (
	phaseDialing phase = iota
	phaseWriting
	phaseReading
	phaseDone
)

// transferState is the engine's private bookkeeping for one transfer. It
// is the concrete value stored behind the agent.EngineHandle the agent
// holds, and is never touched outside the agent goroutine except for the
// narrow dial-completion handoff in startDial.
type transferState struct {
	handle  agent.TransferHandle
	handler *agent.RequestHandler

	id        agent.TransferId
	host      string
	fd        int
	socketKey agent.SocketKey

	conn     *pollableConn
	fromPool bool

	writeBuf []byte // remaining unsent request bytes
	parser   *responseParser

	pendingEvents []parsedEvent // events decoded but not yet delivered (backpressure)
	paused        bool          // response handler asked us to stop delivering

	keepAlive bool
	phase     phase

	dialErr error
}

// registerDialed finalizes a transferState whose connection is already
// available (pool hit) by routing it through the same path a completed
// background dial takes, so AddTransfer has exactly one success path to
// maintain.
func (e *Engine) registerDialed(st *transferState) {
	e.dialMu.Lock()
	e.dialed = append(e.dialed, st)
	e.dialMu.Unlock()
}

// startDial spawns a goroutine to perform the blocking connect, handing the
// result back through the dialed queue that Perform/ActionTimeout drain.
// Running the dial off the agent goroutine is what lets a slow DNS lookup
// or slow TCP handshake for one transfer never stall every other transfer
// the agent is multiplexing.
func (e *Engine) startDial(st *transferState) {
	host := st.host
	timeout := e.dialTimeout
	go func() {
		conn, err := dial(host, timeout)
		st.conn = conn
		st.dialErr = err
		e.dialMu.Lock()
		e.dialed = append(e.dialed, st)
		e.dialMu.Unlock()
	}()
}

// drainDialed moves every transferState whose dial (or pool lookup) has
// completed since the last drain into the running byFD set, registering
// its fd with the host's poller via the socket-interest callback.
func (e *Engine) drainDialed() {
	e.dialMu.Lock()
	batch := e.dialed
	e.dialed = nil
	e.dialMu.Unlock()

	for _, st := range batch {
		if st.dialErr != nil {
			e.fail(st, wrapTransferErr(st.dialErr))
			continue
		}
		st.fd = st.conn.fd
		st.phase = phaseWriting
		st.parser = newResponseParser()
		e.byFD[st.fd] = st
		if e.socketFn != nil {
			e.socketFn(st.fd, agent.EventsOutput, 0)
		}
		e.advance(st)
	}
}

// advance drives one transferState forward as far as it can go without
// blocking: flush pending writes, then pump parsed response events into
// the handler, switching the socket's registered interest whenever the
// direction it needs changes.
func (e *Engine) advance(st *transferState) {
	if st.phase == phaseDone {
		return
	}
	if st.handler.IsAborted() {
		e.fail(st, agent.ErrAborted)
		return
	}

	if st.phase == phaseWriting {
		if !e.advanceWrite(st) {
			return
		}
		st.phase = phaseReading
		if e.socketFn != nil {
			e.socketFn(st.fd, agent.EventsInput, st.socketKey)
		}
	}

	if st.phase == phaseReading {
		e.advanceRead(st)
	}
}

// advanceWrite flushes st.writeBuf and, once it is empty, pulls further
// request-body bytes from the handler until the handler itself reports
// EOF, wouldBlock, or the socket itself would block. Returns true once the
// entire request (headers plus body) has been written.
func (e *Engine) advanceWrite(st *transferState) bool {
	for len(st.writeBuf) > 0 {
		n, err := st.conn.Write(st.writeBuf)
		if err != nil {
			if err == errWouldBlock {
				return false
			}
			e.fail(st, wrapTransferErr(err))
			return false
		}
		st.writeBuf = st.writeBuf[n:]
	}

	buf := make([]byte, 32*1024)
	for {
		n, wouldBlock, eof := st.handler.OnRequestBody(buf)
		if n > 0 {
			if written, werr := writeAll(st.conn, buf[:n]); werr != nil {
				if werr == errWouldBlock {
					st.writeBuf = append([]byte(nil), buf[written:n]...)
					return false
				}
				e.fail(st, wrapTransferErr(werr))
				return false
			}
		}
		if eof {
			return true
		}
		if wouldBlock {
			return false
		}
	}
}

// writeAll writes p to conn in full, returning errWouldBlock (with the
// unwritten remainder discarded by the caller into writeBuf) the moment a
// non-blocking write can't make progress.
func writeAll(conn *pollableConn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := conn.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// advanceRead pumps bytes off the socket, feeds them to the response
// parser, and delivers each resulting event to the handler, stopping the
// moment the handler reports backpressure (OnResponseBody returning
// wouldBlock) or the socket itself has no more to offer right now.
func (e *Engine) advanceRead(st *transferState) {
	if !e.flushPending(st) {
		return
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := st.conn.Read(buf)
		if n > 0 {
			events, perr := st.parser.feed(buf[:n], nil)
			if perr != nil {
				e.fail(st, wrapTransferErr(perr))
				return
			}
			st.pendingEvents = append(st.pendingEvents, events...)
			if !e.flushPending(st) {
				return
			}
		}
		if err != nil {
			if err == errWouldBlock {
				return
			}
			if err.Error() == "EOF" {
				e.finishOnClose(st)
				return
			}
			e.fail(st, wrapTransferErr(err))
			return
		}
		if st.parser.done() {
			return
		}
	}
}

// finishOnClose handles the socket reporting EOF: if the parser is framing
// an until-close body, that EOF is the legitimate end of the response;
// otherwise it is a premature disconnect.
func (e *Engine) finishOnClose(st *transferState) {
	if st.parser.framing == framingUntilClose && !st.parser.done() {
		st.pendingEvents = append(st.pendingEvents, parsedEvent{kind: eventEOF})
		e.flushPending(st)
		return
	}
	if !st.parser.done() {
		e.fail(st, wrapTransferErr(perrors.New("engine: connection closed before response completed")))
		return
	}
}

// flushPending delivers every buffered parsedEvent to the handler in
// order, stopping and returning false the moment OnResponseBody reports
// wouldBlock, leaving the remainder queued for the next unpause-driven
// advance.
func (e *Engine) flushPending(st *transferState) bool {
	for len(st.pendingEvents) > 0 {
		ev := st.pendingEvents[0]
		switch ev.kind {
		case eventStatusLine:
			if err := st.handler.OnStatusLine(ev.proto, ev.statusCode); err != nil {
				e.fail(st, err)
				return false
			}
		case eventHeader:
			if err := st.handler.OnHeader(ev.key, ev.value); err != nil {
				e.fail(st, err)
				return false
			}
			if strings.EqualFold(ev.key, "Connection") && strings.EqualFold(ev.value, "close") {
				st.keepAlive = false
			}
		case eventHeadersDone:
			if !st.handler.OnHeadersComplete() {
				e.fail(st, agent.ErrAborted)
				return false
			}
			if st.parser.framing == framingUntilClose {
				st.keepAlive = false
			}
		case eventBody:
			if st.handler.OnResponseBody(ev.body) {
				return false
			}
		case eventEOF:
			st.handler.OnResult(nil)
			e.finish(st)
			st.pendingEvents = st.pendingEvents[1:]
			return false
		}
		st.pendingEvents = st.pendingEvents[1:]
	}
	return true
}

func wrapTransferErr(err error) error {
	if err == nil {
		return nil
	}
	return &agent.Error{Kind: agent.KindTransfer, Msg: "transfer failed", Cause: perrors.Wrap(err, "transfer failed")}
}

// buildRequestBytes renders an agent.Request into raw HTTP/1.1 request
// bytes (request line plus headers; the body is streamed separately by
// advanceWrite via OnRequestBody) and returns the parsed target URL so the
// caller can dial its host.
func buildRequestBytes(req *agent.Request) ([]byte, *url.URL, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, nil, perrors.Wrap(err, "engine: parse request URL")
	}
	if u.Host == "" {
		return nil, nil, perrors.Errorf("engine: request URL %q has no host", req.URL)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":80"
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", strings.ToUpper(req.Method), path)
	fmt.Fprintf(&buf, "Host: %s\r\n", u.Host)

	hasConnection := false
	if req.Header != nil {
		for key, values := range req.Header {
			if strings.EqualFold(key, "Connection") {
				hasConnection = true
			}
			for _, v := range values {
				fmt.Fprintf(&buf, "%s: %s\r\n", key, v)
			}
		}
	}
	if !hasConnection {
		buf.WriteString("Connection: keep-alive\r\n")
	}
	buf.WriteString("\r\n")

	u.Host = host
	return buf.Bytes(), u, nil
}
