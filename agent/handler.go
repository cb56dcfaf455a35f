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
	"fmt"
	"io"
	"sync"

	"reqagent/internal/logging"
)

// RequestHandler is the per-transfer bridge between the native engine's
// callbacks and the caller-facing ResponseFuture/Body pair. One is created
// per transfer in beginRequest and lives for exactly as long as the engine
// holds the transfer registered.
//
// The header and response-body callbacks (OnStatusLine, OnHeader,
// OnHeadersComplete, OnResponseBody) check IsAborted first: once a caller
// aborts the RequestContext, closes the Body, or closes the ResponseFuture
// before it resolves, they stop accepting work and report it back to the
// engine so the transfer winds down. OnRequestBody, OnSeek, OnProgress and
// OnResult do not check it.
type RequestHandler struct {
	id       TransferId
	ctx      *RequestContext
	producer *ResponseProducer
	respPipe *bytePipe

	reqBody         *requestBody
	reqLeftover     []byte
	reqLeftoverFull []byte

	headersDone bool
	resultOnce  sync.Once
	metrics     *Metrics
}

// newRequestHandler wires a RequestHandler's response pipe to wakeWrite (the
// UnpauseWrite waker fired when a caller reading the Body makes room) and
// its request pipe, if any, to wakeRead (the UnpauseRead waker fired when
// the pump goroutine adds bytes to a previously empty request pipe).
// metrics may be nil, in which case progress and outcome counters are
// simply not recorded; otherwise the handler records into its own
// per-transfer Metrics that shares metrics' Prometheus collectors.
func newRequestHandler(id TransferId, ctx *RequestContext, producer *ResponseProducer, reqSrc io.Reader, wakeRead, wakeWrite waker, metrics *Metrics) *RequestHandler {
	if metrics != nil {
		metrics = &Metrics{prom: metrics.prom}
	}
	h := &RequestHandler{
		id:       id,
		ctx:      ctx,
		producer: producer,
		respPipe: newBytePipe(func() { wakeWrite.wake(unpauseWriteMsg{id: id}) }),
		metrics:  metrics,
	}
	if reqSrc != nil {
		h.reqBody = newRequestBody(reqSrc, func() { wakeRead.wake(unpauseReadMsg{id: id}) })
	}
	if metrics != nil {
		metrics.markStarted()
	}
	return h
}

// IsAborted reports whether the caller has walked away from this transfer:
// the RequestContext was aborted, or the ResponseFuture was closed before
// it resolved.
func (h *RequestHandler) IsAborted() bool {
	return h.ctx.IsAborted() || h.producer.State() == StateCanceled
}

// OnStatusLine receives the parsed status line. Returning an error aborts
// the transfer from the engine's side.
func (h *RequestHandler) OnStatusLine(proto string, statusCode int) error {
	if h.IsAborted() {
		return ErrAborted
	}
	h.producer.mu.Lock()
	h.producer.Proto = proto
	h.producer.StatusCode = statusCode
	h.producer.mu.Unlock()
	return nil
}

// OnHeader receives one response header line.
func (h *RequestHandler) OnHeader(key, value string) error {
	if h.IsAborted() {
		return ErrAborted
	}
	h.producer.mu.Lock()
	h.producer.Header.Add(key, value)
	h.producer.mu.Unlock()
	return nil
}

// OnHeadersComplete is called once the header block ends. It builds the
// caller-visible Body over the response pipe and hands the whole Response
// to the waiting future. Returns false if the caller had already dropped
// the future, in which case the engine should cancel the transfer.
func (h *RequestHandler) OnHeadersComplete() bool {
	if h.headersDone {
		return true
	}
	h.headersDone = true
	if h.IsAborted() {
		return false
	}
	body := newBody(h.respPipe, h.ctx)
	if !h.producer.Finish(body, h.ctx) {
		logging.Debugf("transfer %d: response future dropped before headers arrived", h.id)
		return false
	}
	return true
}

// OnResponseBody delivers one chunk of response body. wouldBlock reports
// that the response pipe is full and the engine should pause reading until
// an unpauseWriteMsg arrives for this transfer.
func (h *RequestHandler) OnResponseBody(chunk []byte) (wouldBlock bool) {
	if h.IsAborted() {
		return false
	}
	ok := h.respPipe.trySend(chunk)
	if ok && h.metrics != nil {
		h.metrics.addDownloaded(int64(len(chunk)))
	}
	return !ok
}

// OnRequestBody fills buf with bytes from the caller's request body.
// eof means the body is exhausted (or there never was one); wouldBlock
// means the engine should pause writing until an unpauseReadMsg arrives.
func (h *RequestHandler) OnRequestBody(buf []byte) (n int, wouldBlock bool, eof bool) {
	if h.reqBody == nil {
		return 0, false, true
	}
	if len(h.reqLeftover) == 0 {
		chunk, ok, done := h.reqBody.pipe.tryReceive()
		if done {
			return 0, false, true
		}
		if !ok {
			return 0, true, false
		}
		h.reqLeftover = chunk
		h.reqLeftoverFull = chunk
	}
	n = copy(buf, h.reqLeftover)
	h.reqLeftover = h.reqLeftover[n:]
	if len(h.reqLeftover) == 0 && h.reqLeftoverFull != nil {
		putChunk(h.reqLeftoverFull)
		h.reqLeftoverFull = nil
	}
	if h.metrics != nil && n > 0 {
		h.metrics.addUploaded(int64(n))
	}
	return n, false, false
}

// OnSeek forwards a seek request to the caller's request body, if it
// supports io.Seeker.
func (h *RequestHandler) OnSeek(offset int64) (int64, error) {
	if h.reqBody == nil {
		return 0, fmt.Errorf("reqagent: request has no body to seek")
	}
	seeker, ok := h.reqBody.seekable()
	if !ok {
		return 0, fmt.Errorf("reqagent: request body is not seekable")
	}
	return seeker.Seek(offset, io.SeekStart)
}

// OnProgress reports transfer byte counters. It logs them at debug level
// and, when metrics are enabled, records the current time as ConnectedAt.
func (h *RequestHandler) OnProgress(uploadedBytes, uploadTotal, downloadedBytes, downloadTotal int64) {
	logging.Debugf("transfer %d: progress up=%d/%d down=%d/%d", h.id, uploadedBytes, uploadTotal, downloadedBytes, downloadTotal)
	if h.metrics != nil {
		h.metrics.markConnected()
	}
}

// OnResult is the terminal callback: the engine calls it exactly once per
// transfer, successful or not — the success path (flushPending's eventEOF)
// and the agent's own completeTransfer/abortRemaining all reach it, so it
// guards itself with resultOnce rather than trusting every caller to
// invoke it at most once. It resolves whichever half of the producer/body
// handoff is still open and releases the upload pump, if any.
func (h *RequestHandler) OnResult(err error) {
	h.resultOnce.Do(func() {
		h.ctx.SetResult(err)
		if !h.headersDone {
			h.headersDone = true
			if err == nil {
				// A clean EOF before any header callback fired still counts
				// as success (e.g. a response with no headers at all): the
				// caller gets a Response with a zero Head and an
				// already-drained Body rather than no Response at all.
				h.producer.Finish(newBody(h.respPipe, h.ctx), h.ctx)
			} else {
				h.producer.CompleteWithError(err)
			}
		}
		h.respPipe.closeWithError(err)
		if h.reqBody != nil {
			// Nothing will call OnRequestBody again once the transfer is
			// done; without this, a pump blocked sending into a full
			// request pipe would never wake up.
			h.reqBody.cancel()
		}
		if h.metrics != nil {
			h.metrics.markFinished(err)
		}
	})
}
