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
	"github.com/prometheus/client_golang/prometheus"

	"reqagent/agent/internal/netpoll"
	"reqagent/agent/internal/slab"
	"reqagent/internal/logging"
)

// Agent is the background event loop that multiplexes every concurrent
// transfer submitted through its Handle onto one Engine and one poller, all
// driven from a single goroutine. It owns both slabs and the poller's
// receive side exclusively; nothing outside this goroutine ever touches
// them, which is what lets the hot path run lock-free.
type Agent struct {
	engine  Engine
	poller  netpoll.Poller
	mailbox chan message
	opts    Options
	metrics *Metrics

	transfers *slab.Slab[activeTransfer]
	sockets   *slab.Slab[int] // slot -> fd; the engine-facing SocketKey is slot+1

	pending []socketUpdate
	waitBuf []netpoll.Event

	joined chan struct{}
}

const mailboxCapacity = 256

// activeTransfer is what the agent keeps per in-flight TransferId: enough
// to unregister it from the engine and, on shutdown, to resolve its future
// directly without the engine's help.
type activeTransfer struct {
	engineHandle EngineHandle
	handler      *RequestHandler
}

func newAgent(eng Engine, poller netpoll.Poller, opts Options) *Agent {
	var metrics *Metrics
	if opts.EnableMetrics {
		metrics = newMetrics(true, prometheus.DefaultRegisterer)
	}
	return &Agent{
		engine:    eng,
		poller:    poller,
		mailbox:   make(chan message, mailboxCapacity),
		opts:      opts,
		metrics:   metrics,
		transfers: slab.New[activeTransfer](),
		sockets:   slab.New[int](),
		waitBuf:   make([]netpoll.Event, 0, 64),
		joined:    make(chan struct{}),
	}
}

// send delivers a message to the agent's mailbox from any goroutine. It is
// the "send" half of the waker every RequestHandler is built with.
func (a *Agent) send(m message) {
	a.mailbox <- m
}

// run is the agent's whole life cycle: it owns the engine and poller for
// as long as it runs and releases both on the way out, however it exits.
func (a *Agent) run() {
	defer close(a.joined)
	defer func() {
		a.abortRemaining()
		if err := a.poller.Close(); err != nil {
			logging.Warnf("agent: closing poller: %v", err)
		}
		if err := a.engine.Close(); err != nil {
			logging.Warnf("agent: closing engine: %v", err)
		}
	}()

	a.engine.SocketFunction(a.onSocketEvent)

	for {
		if stop := a.pollMessages(); stop {
			return
		}
		if err := a.dispatch(); err != nil {
			logging.Errorf("agent: dispatch: %v", err)
		}
		if err := a.wait(); err != nil {
			logging.Errorf("agent: wait: %v", err)
		}
	}
}

// pollMessages drains the mailbox. With no in-flight transfers there is
// nothing else useful the agent could be doing, so it blocks for the first
// message; otherwise it drains everything already queued without blocking
// and returns promptly to let dispatch/wait keep transfers moving. Returns
// true once a closeMsg has been observed, telling run to stop.
func (a *Agent) pollMessages() bool {
	if a.transfers.Len() == 0 {
		m := <-a.mailbox
		if !a.handleMessage(m) {
			return true
		}
	}
	for {
		select {
		case m := <-a.mailbox:
			if !a.handleMessage(m) {
				return true
			}
		default:
			return false
		}
	}
}

func (a *Agent) handleMessage(m message) bool {
	switch msg := m.(type) {
	case closeMsg:
		return false
	case executeMsg:
		a.beginRequest(msg.transfer)
	case unpauseReadMsg, unpauseWriteMsg:
		// Draining the message is the signal itself: the next dispatch
		// calls Engine.Perform, which retries whichever callback had
		// returned wouldBlock for this transfer.
	}
	return true
}

// beginRequest reserves a TransferId, builds the RequestHandler wired to
// this agent's mailbox/poller waker, and registers the transfer with the
// engine. If AddTransfer fails, the reserved id is released and the
// caller's future resolves with that error; a SetToken failure is only
// logged.
func (a *Agent) beginRequest(p *pendingTransfer) {
	id := a.transfers.VacantKey()
	w := waker{send: a.send, notify: a.poller.Notify}

	handler := newRequestHandler(id, p.ctx, p.producer, p.request.Body, w, w, a.metrics)
	handle := &transferHandle{request: p.request, handler: handler}

	engineHandle, err := a.engine.AddTransfer(handle)
	if err != nil {
		a.transfers.Release(id)
		p.ctx.SetResult(err)
		p.producer.CompleteWithError(err)
		return
	}
	if err := a.engine.SetToken(engineHandle, id); err != nil {
		logging.Errorf("agent: transfer %d: set token: %v", id, err)
	}
	a.transfers.Insert(id, activeTransfer{engineHandle: engineHandle, handler: handler})

	if handler.reqBody != nil {
		go handler.reqBody.pump()
	}
}

// dispatch advances every transfer one step and reconciles completions.
func (a *Agent) dispatch() error {
	if err := a.engine.Perform(); err != nil {
		return err
	}
	a.engine.Messages(a.completeTransfer)
	return nil
}

func (a *Agent) completeTransfer(id TransferId, result error) {
	t, ok := a.transfers.Remove(id)
	if !ok {
		return
	}
	if err := a.engine.RemoveTransfer(t.engineHandle); err != nil {
		logging.Warnf("agent: transfer %d: remove from engine: %v", id, err)
	}
	// The success path (engine/transfer.go's flushPending, on eventEOF)
	// already calls OnResult itself, before the engine even reports the
	// transfer as completed here; a failure reported through Engine.fail
	// never does. OnResult guards against a second call, so it is always
	// safe, and always necessary, to call it here too.
	t.handler.OnResult(result)
	if result != nil {
		logging.Debugf("transfer %d finished: %v", id, result)
	}
}

// abortRemaining resolves every transfer still registered when the agent
// is shutting down. The engine is about to be closed out from under these
// handlers, so the agent settles their futures itself rather than leaving
// a caller blocked in Wait forever.
func (a *Agent) abortRemaining() {
	a.transfers.Clear(func(_ int, t activeTransfer) {
		t.handler.OnResult(ErrAborted)
	})
}

// onSocketEvent is the engine's socket-registration callback. It only
// queues the change: the engine forbids acting on it inline, since Perform
// and friends are not reentrant with Poller mutation.
//
// A single Perform call can legitimately re-register the same fd's
// interest more than once — e.g. a small request finishes writing in the
// same tick it was dialed, before wait has had a chance to assign it a
// SocketKey and report it back through Assign. Coalescing by fd here
// means applySocketUpdate only ever sees the net desired interest for a
// not-yet-assigned fd, instead of trying to Add it twice.
func (a *Agent) onSocketEvent(fd int, events SocketEvents, token SocketKey) {
	for i := range a.pending {
		if a.pending[i].fd == fd {
			a.pending[i].events = events
			if token != 0 {
				a.pending[i].token = token
			}
			return
		}
	}
	a.pending = append(a.pending, socketUpdate{fd: fd, events: events, token: token})
}

// wait applies every socket-registration change queued since the last
// iteration, then blocks in the poller for at most the smaller of the
// engine's preferred timeout and the agent's configured ceiling, and
// drives whatever became ready (or, on a clean timeout, drives the
// engine's own timers).
func (a *Agent) wait() error {
	for _, u := range a.pending {
		if err := a.applySocketUpdate(u); err != nil {
			logging.Warnf("agent: socket update fd=%d: %v", u.fd, err)
		}
	}
	a.pending = a.pending[:0]

	timeout := a.opts.PollTimeout
	if d, ok := a.engine.GetTimeout(); ok && d < timeout {
		timeout = d
	}

	events, err := a.poller.Wait(a.waitBuf[:0], timeout)
	if err != nil {
		return err
	}
	a.waitBuf = events
	if len(events) == 0 {
		return a.engine.ActionTimeout()
	}
	for _, ev := range events {
		fd, ok := a.sockets.Get(ev.Key)
		if !ok {
			continue
		}
		if err := a.engine.ActionSocket(fd, ev.Readable, ev.Writable); err != nil {
			logging.Warnf("agent: action socket fd=%d: %v", fd, err)
		}
	}
	return nil
}

// applySocketUpdate's Add branch assigns token = slot+1 as the
// engine-facing SocketKey, keeping 0 reserved for "unassigned": the slab
// key itself is 0-based, but onSocketEvent/this switch use token == 0 as
// the Add discriminator, so handing out slot 0 verbatim would make the
// engine's very first socket indistinguishable from an unassigned one on
// its next Modify. The poller's own Event.Key stays the raw 0-based slot
// throughout; only the value crossing into agent.Engine gets the +1.
func (a *Agent) applySocketUpdate(u socketUpdate) error {
	switch {
	case u.events == EventsRemove:
		a.sockets.Remove(u.token - 1)
		return a.poller.Delete(u.fd)
	case u.token == 0:
		key := a.sockets.VacantKey()
		a.sockets.Insert(key, u.fd)
		if err := a.poller.Add(u.fd, netpoll.Event{Key: key, Readable: u.events.readable(), Writable: u.events.writable()}); err != nil {
			a.sockets.Remove(key)
			return err
		}
		return a.engine.Assign(u.fd, key+1)
	default:
		return a.poller.Modify(u.fd, netpoll.Event{Key: u.token - 1, Readable: u.events.readable(), Writable: u.events.writable()})
	}
}
