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

// Package reqagent is the public façade over package agent: a small,
// convenient surface for submitting HTTP requests through a background
// transfer agent without importing agent directly.
package reqagent

import (
	"io"
	"net/http"
	"net/url"

	"reqagent/agent"
)

// Request describes one HTTP request to submit through a Client.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
}

// NewRequest builds a Request, validating that url parses and defaulting
// Method to GET, mirroring net/http.NewRequest's ergonomics.
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, err
	}
	return &Request{
		Method: method,
		URL:    rawURL,
		Header: make(http.Header),
		Body:   body,
	}, nil
}

func (r *Request) toAgentRequest() *agent.Request {
	return &agent.Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header,
		Body:   r.Body,
	}
}
