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
	"net/http"
)

// Request is the wire-level description of one transfer: everything an
// Engine needs to build and send an HTTP request, independent of any
// particular engine implementation. The root package builds one of these
// from its public Request type on every SubmitRequest call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
}

// pendingTransfer is what a Handle hands to the agent goroutine in an
// executeMsg: a fully-formed request plus the caller-facing halves of its
// RequestContext/ResponseFuture pair, before a TransferId has been
// assigned. beginRequest consumes one of these and turns it into a live
// transfer registered with the engine.
type pendingTransfer struct {
	request  *Request
	ctx      *RequestContext
	producer *ResponseProducer
}

// transferHandle is the concrete TransferHandle the agent hands to
// Engine.AddTransfer once a pendingTransfer has been assigned a TransferId
// and its RequestHandler constructed.
type transferHandle struct {
	request *Request
	handler *RequestHandler
}

func (t *transferHandle) Handler() *RequestHandler { return t.handler }
func (t *transferHandle) Request() *Request        { return t.request }
