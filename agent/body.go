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
	"io"
	"sync"
	"sync/atomic"
)

const bodyChannelCapacity = 32

// bytePipe is a bounded, in-memory channel of byte chunks, used for both
// the response body (handler -> caller) and the request body (caller ->
// handler) directions described in the design's "Body channel" and
// "Request-body channel". It is the Go analogue of the bounded async
// channel isahc pairs with its body streams: a slow consumer throttles only
// its own transfer, and the producer learns about drain/fill transitions
// through wake, not polling.
type bytePipe struct {
	data      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
	finalErr  atomic.Pointer[error]
	wake      func() // invoked on the backpressure-relieving transition
}

func newBytePipe(wake func()) *bytePipe {
	return &bytePipe{
		data:   make(chan []byte, bodyChannelCapacity),
		closed: make(chan struct{}),
		wake:   wake,
	}
}

// trySend attempts a non-blocking send of b. Returns false if the pipe is
// full (the caller — a RequestHandler callback — must then signal the
// engine to pause and return "would block") or already closed.
//
// trySend never wakes anyone: its only caller runs on the agent goroutine
// itself (OnResponseBody), and the wake callback delivers by sending back
// into that same goroutine's mailbox. The wake belongs on the draining
// side instead — see receive/tryReceive's wasFull case — which is what a
// paused producer is actually waiting on.
func (p *bytePipe) trySend(b []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.data <- b:
		return true
	default:
		return false
	}
}

// tryReceive attempts a non-blocking receive. ok is false if the pipe is
// currently empty (the caller must then signal the engine to pause and
// return "would block"); done is true once the pipe is closed and drained.
func (p *bytePipe) tryReceive() (b []byte, ok bool, done bool) {
	wasFull := len(p.data) == cap(p.data)
	select {
	case b, open := <-p.data:
		if !open {
			return nil, false, true
		}
		if wasFull && p.wake != nil {
			p.wake()
		}
		return b, true, false
	default:
		select {
		case <-p.closed:
			return nil, false, true
		default:
			return nil, false, false
		}
	}
}

// receive blocks until a chunk is available or the pipe closes.
func (p *bytePipe) receive() (b []byte, ok bool) {
	wasFull := len(p.data) == cap(p.data)
	b, open := <-p.data
	if wasFull && p.wake != nil {
		p.wake()
	}
	return b, open
}

// closeWithError closes the pipe. err is nil for a clean EOF. Safe to call
// more than once; only the first call has an effect.
func (p *bytePipe) closeWithError(err error) {
	p.closeOnce.Do(func() {
		p.finalErr.Store(&err)
		close(p.closed)
		close(p.data)
	})
}

func (p *bytePipe) err() error {
	if e := p.finalErr.Load(); e != nil {
		return *e
	}
	return nil
}

// Body is the caller-visible, asynchronously-filled response body. It
// implements io.ReadCloser over the response byte pipe and surfaces the
// transfer's stored RequestContext.result on the stream's final read: EOF
// returns (0, io.EOF) only if result is a clean success, otherwise the
// stored error is returned instead of io.EOF.
type Body struct {
	pipe    *bytePipe
	ctx     *RequestContext
	leftover []byte
}

func newBody(pipe *bytePipe, ctx *RequestContext) *Body {
	return &Body{pipe: pipe, ctx: ctx}
}

// Read implements io.Reader. Ordering guarantee carried from the design:
// for a single transfer, body bytes are delivered to the caller in the
// exact order the engine produced them.
func (b *Body) Read(p []byte) (int, error) {
	if len(b.leftover) == 0 {
		chunk, ok := b.pipe.receive()
		if !ok {
			return 0, b.terminalError()
		}
		b.leftover = chunk
	}

	n := copy(p, b.leftover)
	b.leftover = b.leftover[n:]
	return n, nil
}

// terminalError is called once the pipe is drained and closed: it
// reconciles the pipe's own close error (if any, e.g. a mid-stream
// transport failure) with the transfer's RequestContext.result, preferring
// whichever is non-nil and defaulting to io.EOF on a clean finish.
func (b *Body) terminalError() error {
	if err := b.pipe.err(); err != nil {
		return err
	}
	if b.ctx != nil {
		if err, done := b.ctx.Result(); done && err != nil {
			return err
		}
	}
	return io.EOF
}

// Close implements io.Closer. Closing the body before EOF marks the
// transfer aborted, so the handler tears it down within one poll cycle.
func (b *Body) Close() error {
	if b.ctx != nil {
		b.ctx.Abort()
	}
	return nil
}

// requestBody is the handler-side consumer of a caller-supplied upload
// body. A background pump goroutine (started by beginRequest) reads from
// the caller's io.Reader into the pipe; the handler's "request bytes
// requested" callback pulls from the pipe non-blockingly.
type requestBody struct {
	pipe       *bytePipe
	src        io.Reader
	done       chan struct{}
	cancelOnce sync.Once
}

func newRequestBody(src io.Reader, wake func()) *requestBody {
	if src == nil {
		return nil
	}
	return &requestBody{pipe: newBytePipe(wake), src: src, done: make(chan struct{})}
}

// cancel tells pump to stop at its next opportunity, without the handler
// having to race closing the pipe's data channel against a pump goroutine
// that might still be mid-send on it. Safe to call more than once, and
// safe to call whether or not pump is currently blocked.
func (r *requestBody) cancel() {
	r.cancelOnce.Do(func() { close(r.done) })
}

// pump reads chunks from the caller's reader into the pipe until EOF,
// error, or cancel, blocking (on its own goroutine) whenever the pipe is
// full — this is the one place in the library a goroutine other than the
// agent goroutine may block on I/O, by design: it is what lets the agent
// goroutine itself stay non-blocking.
func (r *requestBody) pump() {
	for {
		buf := getChunk()
		n, err := r.src.Read(buf)
		if n > 0 {
			// This select is fine blocking on its own goroutine, never the
			// agent goroutine: backpressure from a full pipe only parks the
			// pump. The done case matters once the transfer has already
			// finished (e.g. the caller aborted) and nothing will ever drain
			// the pipe again, so a pump stuck on a plain channel send would
			// otherwise leak forever. Ownership of buf passes to the pipe's
			// consumer on the send case; it returns the chunk to the pool
			// once fully drained, same as before. Filling a previously empty
			// pipe wakes the agent so a paused upload resumes promptly.
			wasEmpty := len(r.pipe.data) == 0
			select {
			case r.pipe.data <- buf[:n]:
				if wasEmpty && r.pipe.wake != nil {
					r.pipe.wake()
				}
			case <-r.done:
				putChunk(buf)
				return
			}
		} else {
			putChunk(buf)
		}
		if err != nil {
			if err == io.EOF {
				r.pipe.closeWithError(nil)
			} else {
				r.pipe.closeWithError(err)
			}
			return
		}
	}
}

// seekable reports whether the caller's body supports Seek, for the
// engine's seek callback.
func (r *requestBody) seekable() (io.Seeker, bool) {
	s, ok := r.src.(io.Seeker)
	return s, ok
}
