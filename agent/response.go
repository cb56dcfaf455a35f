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
	"net/http"
	"sync"

	"reqagent/internal/logging"
)

// Head is the part of a response that arrives before the body: status
// line, version, and headers. ResponseProducer accumulates one of these and
// ResponseFuture hands it to the caller alongside the Body.
type Head struct {
	StatusCode int
	Proto      string
	Header     http.Header
}

// Response pairs a Head with the streaming Body, and the RequestContext the
// caller can use to abort the transfer or inspect its terminal result.
type Response struct {
	Head
	Body    *Body
	Context *RequestContext
}

// ResponseState is the externally observable state of a ResponseProducer,
// used by the handler to short-circuit work once the caller has walked
// away.
type ResponseState int

const (
	// StateActive means the future is still waiting and has not been
	// dropped.
	StateActive ResponseState = iota
	// StateCanceled means the future was dropped before completion.
	StateCanceled
	// StateCompleted means Finish or CompleteWithError already ran.
	StateCompleted
)

type futureResult struct {
	resp Response
	err  error
}

// ResponseFuture is the caller-owned half of the one-shot response
// handoff, mirroring src/internal/response.rs's ResponseFuture in the
// original isahc agent. Resolves at most once.
//
// This library has no async runtime of its own, so where isahc exposes a
// Rust Future polled by an executor, ResponseFuture exposes a blocking
// Wait — the natural Go shape for a one-shot result. It has no exported
// channel to select on.
type ResponseFuture struct {
	ch        chan futureResult
	waitOnce  sync.Once
	result    futureResult
	completed bool
	closeOnce sync.Once
	canceled  chan struct{}
}

// Wait blocks until the response head is available, or the transfer ends
// with an error before headers arrive, and returns it. Calling Wait again
// after it has already resolved replays the same result from ch without
// reading it again; it does not panic or block a second time.
func (f *ResponseFuture) Wait() (Response, error) {
	f.waitOnce.Do(func() {
		r, ok := <-f.ch
		f.completed = true
		if !ok {
			r = futureResult{err: ErrAborted}
		}
		f.result = r
	})
	return f.result.resp, f.result.err
}

// done returns the channel the producer sends the terminal futureResult
// on. It is unexported, since futureResult is an implementation detail;
// callers outside the package use Wait.
func (f *ResponseFuture) done() <-chan futureResult {
	return f.ch
}

// Close releases the future without waiting for a result. If the producer
// has not yet resolved it, the producer observes StateCanceled on its next
// check and the handler treats the transfer as aborted.
func (f *ResponseFuture) Close() {
	f.closeOnce.Do(func() {
		close(f.canceled)
		if !f.completed {
			logging.Debugf("response future canceled by user")
		}
	})
}

// ResponseProducer is the handler-owned half of the one-shot response
// handoff. It accumulates the status code, HTTP version, and headers as
// the engine's header callbacks arrive; Finish or CompleteWithError
// consumes it exactly once.
type ResponseProducer struct {
	mu         sync.Mutex
	ch         chan futureResult
	canceled   chan struct{}
	sent       bool
	StatusCode int
	Proto      string
	Header     http.Header
}

// newResponseFuture creates a paired ResponseFuture/ResponseProducer.
func newResponseFuture() (*ResponseFuture, *ResponseProducer) {
	ch := make(chan futureResult, 1)
	canceled := make(chan struct{})
	return &ResponseFuture{ch: ch, canceled: canceled},
		&ResponseProducer{ch: ch, canceled: canceled, Header: make(http.Header)}
}

// State reports whether the producer is still active, was canceled by the
// caller dropping the future, or has already sent.
func (p *ResponseProducer) State() ResponseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent {
		return StateCompleted
	}
	select {
	case <-p.canceled:
		return StateCanceled
	default:
		return StateActive
	}
}

// Finish builds the Response from the buffered status/version/headers and
// the given body, and sends it. Returns true iff the future accepted it
// (i.e. the caller had not already dropped the future).
func (p *ResponseProducer) Finish(body *Body, ctx *RequestContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent {
		logging.Warnf("response future already completed")
		return false
	}
	select {
	case <-p.canceled:
		p.sent = true
		logging.Infof("response future canceled")
		return false
	default:
	}
	p.sent = true

	p.ch <- futureResult{resp: Response{
		Head: Head{
			StatusCode: p.StatusCode,
			Proto:      p.Proto,
			Header:     p.Header,
		},
		Body:    body,
		Context: ctx,
	}}
	return true
}

// CompleteWithError resolves the future with an error instead of a
// response.
func (p *ResponseProducer) CompleteWithError(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent {
		logging.Warnf("response future already completed")
		return false
	}
	p.sent = true
	p.ch <- futureResult{err: err}
	return true
}
