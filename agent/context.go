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

import "sync/atomic"

// RequestContext is the shared cell for a single transfer that lets a
// caller observe completion and request premature abort, mirroring
// src/context.rs in the original isahc agent. It is safely shared between
// the agent goroutine (the sole writer of result) and any caller goroutine
// (the sole writer of aborted).
//
// result may only transition from unset to set, exactly once; once set, it
// is observed lock-free forever after. aborted may transition from false to
// true any number of times, conventionally once.
type RequestContext struct {
	result  atomic.Pointer[error]
	aborted atomic.Bool
}

// NewRequestContext returns a fresh, unset context.
func NewRequestContext() *RequestContext {
	return &RequestContext{}
}

// Result returns the terminal result of the transfer. ok is false until
// SetResult has been called; afterward it is true forever, and err is nil
// on success.
func (c *RequestContext) Result() (err error, ok bool) {
	p := c.result.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// SetResult sets the terminal result. It is a no-op (not an error) if the
// result has already been set: the first call wins. It is called from
// RequestHandler.OnResult and, when the engine rejects a transfer, from
// the agent's beginRequest.
func (c *RequestContext) SetResult(err error) {
	c.result.CompareAndSwap(nil, &err)
}

// IsAborted reports whether Abort has been called.
func (c *RequestContext) IsAborted() bool {
	return c.aborted.Load()
}

// Abort marks the transfer as aborted. Idempotent: calling it N times has
// the same effect as calling it once.
func (c *RequestContext) Abort() {
	c.aborted.Store(true)
}
