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

package reqagent

import (
	"encoding/json"
	"io"

	"reqagent/agent"
)

// Response wraps agent.Response with a couple of conveniences; the
// underlying Head, Body, and Context fields remain directly accessible.
type Response struct {
	agent.Response
}

// ReadAll drains the entire body, closing it afterward. Convenient for
// small responses; large or streaming responses should read Body directly.
func (r *Response) ReadAll() ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// JSON decodes the response body as JSON into v, closing the body
// afterward regardless of outcome.
func (r *Response) JSON(v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Abort cancels the transfer early; equivalent to r.Context.Abort().
func (r *Response) Abort() {
	r.Context.Abort()
}
