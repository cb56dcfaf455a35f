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

import "time"

// SocketEvents describes what a socket-interest change asks the host to
// watch for, as reported by the engine's socket-registration callback.
type SocketEvents int

const (
	// EventsRemove means the engine is done with this socket; token is its
	// previously assigned SocketKey.
	EventsRemove SocketEvents = iota
	// EventsInput means watch for readability only.
	EventsInput
	// EventsOutput means watch for writability only.
	EventsOutput
	// EventsInputOutput means watch for both.
	EventsInputOutput
)

func (e SocketEvents) readable() bool {
	return e == EventsInput || e == EventsInputOutput
}

func (e SocketEvents) writable() bool {
	return e == EventsOutput || e == EventsInputOutput
}

// EngineHandle is an opaque value the engine returns from AddTransfer and
// which the agent passes back unmodified to RemoveTransfer and SetToken.
// The core never inspects it.
type EngineHandle interface{}

// TransferHandle is what the agent registers with the engine: the
// caller-configured request plus the RequestHandler that will receive the
// engine's callbacks. The core treats it as opaque data to hand to
// AddTransfer; it is produced by package engine (or any other Engine
// implementation) together with a RequestHandler, not by the core itself.
type TransferHandle interface {
	Handler() *RequestHandler
	Request() *Request
}

// Engine is the black-box native transfer engine the agent drives: a
// "multi" handle that owns a pool of connections, TLS state, HTTP/2 muxing,
// etc. The core never looks inside it — it only calls this interface and
// receives socket-registration callbacks and per-transfer results through
// it. A reference implementation lives in package engine.
type Engine interface {
	// AddTransfer registers a new transfer with the engine and returns an
	// opaque handle for it.
	AddTransfer(h TransferHandle) (EngineHandle, error)

	// RemoveTransfer unregisters a previously added transfer.
	RemoveTransfer(h EngineHandle) error

	// SetToken tags an engine handle with the agent's TransferId, so that
	// Messages can report completions by id.
	SetToken(h EngineHandle, id TransferId) error

	// Assign tells the engine which SocketKey the host has assigned to fd,
	// after an Add socket-registration callback.
	Assign(fd int, token SocketKey) error

	// Perform advances all transfers non-blockingly.
	Perform() error

	// ActionSocket advances the transfer(s) associated with fd given that
	// it is currently readable and/or writable.
	ActionSocket(fd int, readable, writable bool) error

	// ActionTimeout advances internal timers when the poller returns with
	// no ready sockets.
	ActionTimeout() error

	// GetTimeout returns the engine's preferred wait timeout, and whether
	// it has an opinion at all (false means "no preference / wait
	// indefinitely").
	GetTimeout() (time.Duration, bool)

	// Messages visits every completed-transfer result queued since the
	// last call, clearing the queue.
	Messages(visit func(id TransferId, result error))

	// SocketFunction registers the callback the engine uses to notify the
	// host of socket interest changes. Called once, before the engine is
	// driven. The callback must be non-blocking: the host is expected to
	// queue it rather than act on it inline.
	SocketFunction(cb func(fd int, events SocketEvents, token SocketKey))

	// SetMaxTotalConnections configures the connection pool; 0 means
	// unlimited / unconfigured.
	SetMaxTotalConnections(n int) error

	// SetMaxHostConnections configures the per-host connection pool; 0
	// means unlimited / unconfigured.
	SetMaxHostConnections(n int) error

	// SetMaxConnects configures the connection cache size; 0 means
	// unconfigured.
	SetMaxConnects(n int) error

	// Close releases every resource the engine owns.
	Close() error
}

// socketUpdate is one queued socket-registration change, pushed by the
// engine's socket-interest callback (running on the agent goroutine inside
// Engine.Perform/ActionSocket/ActionTimeout) and drained by the agent's wait
// phase. Queueing it (rather than acting on it inline) is what lets the
// callback stay non-blocking.
type socketUpdate struct {
	fd     int
	events SocketEvents
	token  SocketKey
}
