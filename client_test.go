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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetAgainstRealServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from server"))
	}))
	defer srv.Close()

	client, err := NewClient()
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Test"))

	body, err := resp.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello from server", string(body))
}

func TestClientPostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(buf)
	}))
	defer srv.Close()

	client, err := NewClient()
	require.NoError(t, err)
	defer client.Close()

	req, err := NewRequest("POST", srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	req.Header.Set("Content-Length", "7")

	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	body, err := resp.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestClientCloseAbortsInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient()
	require.NoError(t, err)

	req, err := NewRequest("GET", srv.URL, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.Do(req)
		done <- err
	}()

	require.NoError(t, client.Close())
	err = <-done
	assert.Error(t, err)
}
