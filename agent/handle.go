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

package agent

import (
	"sync"

	"reqagent/agent/internal/netpoll"
	"reqagent/internal/logging"
)

// Handle is the caller-facing façade over a running Agent: a cheap,
// cloneable (by sharing the pointer) value that submits requests and can
// ask the agent to shut down, joining its goroutine exactly once.
type Handle struct {
	mailbox chan message
	notify  func() error
	joined  <-chan struct{}
	name    string

	closeOnce sync.Once
}

// New starts a new Agent goroutine driving eng and returns a Handle to it.
// The engine's connection-pool limits (§6 of the design) are applied once,
// before the agent ever calls Perform.
func New(eng Engine, opts ...Option) (*Handle, error) {
	if eng == nil {
		return nil, newError(KindConstruction, "engine must not be nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := configureEngine(eng, o); err != nil {
		return nil, err
	}

	poller, err := netpoll.Open()
	if err != nil {
		return nil, wrapError(KindConstruction, "open poller", err)
	}

	a := newAgent(eng, poller, o)
	go a.run()

	h := &Handle{
		mailbox: a.mailbox,
		notify:  a.poller.Notify,
		joined:  a.joined,
		name:    o.Name,
	}
	register(o.Name, h)
	return h, nil
}

func configureEngine(eng Engine, o Options) error {
	if err := eng.SetMaxTotalConnections(o.MaxConnections); err != nil {
		return wrapError(KindConstruction, "set max total connections", err)
	}
	if err := eng.SetMaxHostConnections(o.MaxConnectionsPerHost); err != nil {
		return wrapError(KindConstruction, "set max host connections", err)
	}
	if err := eng.SetMaxConnects(o.ConnectionCacheSize); err != nil {
		return wrapError(KindConstruction, "set connection cache size", err)
	}
	return nil
}

// trySend delivers m to the agent's mailbox, or reports the agent as
// closed rather than blocking forever if the agent goroutine has already
// exited and stopped draining its mailbox.
func (h *Handle) trySend(m message) error {
	select {
	case <-h.joined:
		return newError(KindSubmission, "agent has shut down")
	default:
	}
	select {
	case h.mailbox <- m:
		return nil
	case <-h.joined:
		return newError(KindSubmission, "agent has shut down")
	}
}

// SubmitRequest begins a new transfer and returns a ResponseFuture that
// resolves once the response head arrives (or the transfer fails before
// that point). Safe to call concurrently from any number of goroutines.
func (h *Handle) SubmitRequest(req *Request) (*ResponseFuture, error) {
	if req == nil {
		return nil, newError(KindSubmission, "request must not be nil")
	}

	ctx := NewRequestContext()
	future, producer := newResponseFuture()
	pending := &pendingTransfer{request: req, ctx: ctx, producer: producer}

	if err := h.trySend(executeMsg{transfer: pending}); err != nil {
		return nil, err
	}
	if err := h.notify(); err != nil {
		logging.Warnf("handle: notify poller: %v", err)
	}
	return future, nil
}

// Close asks the agent to shut down and blocks until its goroutine has
// exited. Every ResponseFuture still outstanding at that point resolves
// with ErrAborted, since the agent drops the engine (and every
// RequestHandler's pipes with it) on its way out. Safe to call more than
// once or concurrently; only the first call does anything.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		select {
		case h.mailbox <- closeMsg{}:
		case <-h.joined:
		}
		_ = h.notify()
		<-h.joined
		deregister(h.name)
	})
	return nil
}
