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

// Package engine is the reference, non-core implementation of
// agent.Engine: a small single-threaded HTTP/1.1 client built on raw
// non-blocking sockets, driven entirely by the calls the agent package
// makes into it (Perform, ActionSocket, ActionTimeout). It exists so the
// module is runnable end to end; a production embedder is free to swap in
// a libcurl- or net/http-backed Engine instead.
package engine

import (
	"sync"
	"time"

	perrors "github.com/pkg/errors"

	"reqagent/agent"
	"reqagent/internal/logging"
)

// Engine implements agent.Engine. Every exported method except dial
// completion bookkeeping is called exclusively from the agent goroutine,
// so transferState and the fd maps need no locking; the background dial
// goroutines share only the dialed queue, guarded by dialMu.
type Engine struct {
	byFD  map[int]*transferState
	byID  map[agent.TransferId]*transferState
	pool  *connPool
	socketFn func(fd int, events agent.SocketEvents, token agent.SocketKey)

	dialMu  sync.Mutex
	dialed  []*transferState // populated by dial goroutines, drained by Perform

	completed []completedResult

	dialTimeout time.Duration
}

type completedResult struct {
	id  agent.TransferId
	err error
}

// New builds a reference Engine with no connections yet open.
func New() (*Engine, error) {
	return &Engine{
		byFD:        make(map[int]*transferState),
		byID:        make(map[agent.TransferId]*transferState),
		pool:        newConnPool(),
		dialTimeout: 10 * time.Second,
	}, nil
}

func (e *Engine) AddTransfer(h agent.TransferHandle) (agent.EngineHandle, error) {
	req := h.Request()
	reqBytes, u, err := buildRequestBytes(req)
	if err != nil {
		return nil, perrors.Wrap(err, "engine: build request")
	}

	st := &transferState{
		handle:    h,
		handler:   h.Handler(),
		host:      u.Host,
		writeBuf:  reqBytes,
		phase:     phaseDialing,
		keepAlive: true,
	}

	if conn := e.pool.get(st.host); conn != nil {
		st.conn = conn
		st.fromPool = true
		e.registerDialed(st)
		return st, nil
	}

	e.startDial(st)
	return st, nil
}

func (e *Engine) RemoveTransfer(h agent.EngineHandle) error {
	st, ok := h.(*transferState)
	if !ok {
		return perrors.New("engine: invalid transfer handle")
	}
	delete(e.byID, st.id)
	if st.fd != 0 {
		delete(e.byFD, st.fd)
	}
	if st.conn == nil {
		return nil
	}
	if st.keepAlive && st.phase == phaseDone {
		e.pool.put(st.host, st.conn)
		return nil
	}
	if st.fd != 0 && e.socketFn != nil {
		e.socketFn(st.fd, agent.EventsRemove, st.socketKey)
	}
	return st.conn.Close()
}

func (e *Engine) SetToken(h agent.EngineHandle, id agent.TransferId) error {
	st, ok := h.(*transferState)
	if !ok {
		return perrors.New("engine: invalid transfer handle")
	}
	st.id = id
	e.byID[id] = st
	return nil
}

func (e *Engine) Assign(fd int, token agent.SocketKey) error {
	st, ok := e.byFD[fd]
	if !ok {
		return perrors.Errorf("engine: assign: unknown fd %d", fd)
	}
	st.socketKey = token
	return nil
}

// Perform drains newly-dialed connections into the running set and
// advances every transfer currently registered by one non-blocking step.
func (e *Engine) Perform() error {
	e.drainDialed()
	for _, st := range e.byID {
		e.advance(st)
	}
	return nil
}

func (e *Engine) ActionSocket(fd int, readable, writable bool) error {
	if st, ok := e.byFD[fd]; ok {
		e.advance(st)
	}
	return nil
}

// ActionTimeout re-checks dial goroutines that may have finished; the
// reference engine has no per-request wall-clock timer of its own (that
// belongs to the caller's context, not the engine), so this is otherwise a
// no-op.
func (e *Engine) ActionTimeout() error {
	e.drainDialed()
	return nil
}

// GetTimeout reports no preference, so the agent waits up to its own poll
// ceiling. Socket events and mailbox-driven unpause messages end that wait
// sooner; a background dial that completes does not, and is picked up by
// the next Perform or ActionTimeout.
func (e *Engine) GetTimeout() (time.Duration, bool) {
	return 0, false
}

func (e *Engine) Messages(visit func(id agent.TransferId, result error)) {
	for _, m := range e.completed {
		visit(m.id, m.err)
	}
	e.completed = e.completed[:0]
}

func (e *Engine) SocketFunction(cb func(fd int, events agent.SocketEvents, token agent.SocketKey)) {
	e.socketFn = cb
}

func (e *Engine) SetMaxTotalConnections(n int) error {
	e.pool.setLimits(n, e.pool.maxHost, e.pool.cacheSize)
	return nil
}

func (e *Engine) SetMaxHostConnections(n int) error {
	e.pool.setLimits(e.pool.maxTotal, n, e.pool.cacheSize)
	return nil
}

func (e *Engine) SetMaxConnects(n int) error {
	e.pool.setLimits(e.pool.maxTotal, e.pool.maxHost, n)
	return nil
}

func (e *Engine) Close() error {
	e.pool.closeAll()
	for _, st := range e.byID {
		if st.conn != nil {
			if err := st.conn.Close(); err != nil {
				logging.Warnf("engine: closing connection to %s: %v", st.host, err)
			}
		}
	}
	e.byID = make(map[agent.TransferId]*transferState)
	e.byFD = make(map[int]*transferState)
	return nil
}

// fail completes a transfer with an error and tears down its connection
// rather than returning it to the pool.
func (e *Engine) fail(st *transferState, err error) {
	st.keepAlive = false
	st.phase = phaseDone
	e.completed = append(e.completed, completedResult{id: st.id, err: err})
}

func (e *Engine) finish(st *transferState) {
	st.phase = phaseDone
	e.completed = append(e.completed, completedResult{id: st.id, err: nil})
}
