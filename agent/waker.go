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

// waker is how a goroutine outside the agent loop — a caller reading the
// response Body, or a requestBody's pump goroutine — tells the agent to
// reconsider a paused transfer. Waking has two parts: queue the concrete
// reason (an unpauseReadMsg/unpauseWriteMsg) on the agent's mailbox, then
// kick the poller so a blocked Wait returns promptly instead of waiting out
// its timeout.
//
// This plays the role isahc's waker-chain plays for a Rust Future: there is
// no executor here, so instead of re-polling a future, waking re-drives the
// same transfer's engine callbacks on the agent's next iteration.
type waker struct {
	send   func(message)
	notify func() error
}

// wake queues msg and kicks the poller. Errors from notify are swallowed:
// a failed wakeup only costs a timeout-length delay, not correctness, since
// the agent always drains its mailbox before it next blocks in Wait.
func (w waker) wake(msg message) {
	if w.send != nil {
		w.send(msg)
	}
	if w.notify != nil {
		_ = w.notify()
	}
}

// chain composes a waker with an additional side effect f that runs before
// the underlying wake, mirroring the "wrap a waker with extra behavior"
// shape the original agent's waker chain used to tie body-channel drain
// events to both a mailbox message and the reactor wakeup. Used when a
// caller wants to observe the wake (e.g. for a metrics hook) without
// changing what it ultimately signals.
func chain(inner waker, f func()) waker {
	return waker{
		send: func(m message) {
			f()
			inner.send(m)
		},
		notify: inner.notify,
	}
}
