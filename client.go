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
	"reqagent/agent"
	"reqagent/engine"
)

// Client is a ready-to-use HTTP client backed by one background Agent and
// the package's reference Engine. Safe for concurrent use by any number of
// goroutines, like net/http.Client.
type Client struct {
	handle *agent.Handle
}

// NewClient builds the reference Engine and spawns an Agent to drive it,
// applying any agent.Option the caller supplies (connection limits,
// metrics, registry name, poll timeout).
func NewClient(opts ...agent.Option) (*Client, error) {
	eng, err := engine.New()
	if err != nil {
		return nil, err
	}
	h, err := agent.New(eng, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{handle: h}, nil
}

// Do submits req and blocks until the response head arrives (or the
// transfer fails before that point), mirroring net/http.Client.Do's
// synchronous shape even though the transfer itself runs on the agent
// goroutine, not the caller's.
func (c *Client) Do(req *Request) (*Response, error) {
	future, err := c.handle.SubmitRequest(req.toAgentRequest())
	if err != nil {
		return nil, err
	}
	resp, err := future.Wait()
	if err != nil {
		return nil, err
	}
	return &Response{Response: resp}, nil
}

// Get is a convenience wrapper around NewRequest + Do for the common case.
func (c *Client) Get(url string) (*Response, error) {
	req, err := NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Close asks the underlying agent to shut down and waits for it to do so.
// Every response still outstanding resolves with agent.ErrAborted, and
// every Body still being read observes the same error on its next Read.
func (c *Client) Close() error {
	return c.handle.Close()
}
