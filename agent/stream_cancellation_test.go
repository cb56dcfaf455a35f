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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamingEngine delivers its response body one chunk at a time, stopping
// early once the handler reports the transfer as aborted, so a test can
// read a growing body and abort mid-stream the way a caller scanning for a
// sentinel byte would.
type streamingEngine struct {
	chunks [][]byte
	stopCh chan struct{}
}

func (e *streamingEngine) AddTransfer(h TransferHandle) (EngineHandle, error) {
	handler := h.Handler()
	go func() {
		_ = handler.OnStatusLine("HTTP/1.1", 200)
		handler.OnHeadersComplete()
		for _, c := range e.chunks {
			if handler.IsAborted() {
				close(e.stopCh)
				return
			}
			for handler.OnResponseBody(c) {
				time.Sleep(time.Millisecond)
			}
			// Give a reader that just received this chunk a chance to call
			// Abort before the next chunk goes out, the same way a real
			// socket read would interleave with the caller's own pace.
			for i := 0; i < 100 && !handler.IsAborted(); i++ {
				time.Sleep(2 * time.Millisecond)
			}
		}
		handler.OnResult(nil)
		close(e.stopCh)
	}()
	return h, nil
}

func (e *streamingEngine) RemoveTransfer(h EngineHandle) error                      { return nil }
func (e *streamingEngine) SetToken(h EngineHandle, id TransferId) error             { return nil }
func (e *streamingEngine) Assign(fd int, token SocketKey) error                     { return nil }
func (e *streamingEngine) Perform() error                                          { return nil }
func (e *streamingEngine) ActionSocket(fd int, readable, writable bool) error       { return nil }
func (e *streamingEngine) ActionTimeout() error                                    { return nil }
func (e *streamingEngine) GetTimeout() (time.Duration, bool)                       { return 0, false }
func (e *streamingEngine) Messages(visit func(id TransferId, result error))         {}
func (e *streamingEngine) SocketFunction(cb func(fd int, events SocketEvents, token SocketKey)) {}
func (e *streamingEngine) SetMaxTotalConnections(n int) error                       { return nil }
func (e *streamingEngine) SetMaxHostConnections(n int) error                        { return nil }
func (e *streamingEngine) SetMaxConnects(n int) error                               { return nil }
func (e *streamingEngine) Close() error                                            { return nil }

// TestStreamReaderAbortsOnSentinelByte reproduces isahc's
// stream_cancellation.rs example: read a response body in chunks and call
// Abort as soon as a sentinel byte ('+') turns up, instead of reading to
// EOF, then confirm no further bytes are delivered past that point.
func TestStreamReaderAbortsOnSentinelByte(t *testing.T) {
	eng := &streamingEngine{
		chunks: [][]byte{
			[]byte("safe-prefix-"),
			[]byte("also-safe-"),
			[]byte("bad+tail"),
			[]byte("never-seen"),
		},
		stopCh: make(chan struct{}),
	}
	h, err := New(eng)
	require.NoError(t, err)
	defer h.Close()

	future, err := h.SubmitRequest(&Request{Method: "GET", URL: "http://example.com/"})
	require.NoError(t, err)

	resp, err := future.Wait()
	require.NoError(t, err)

	var seen bytes.Buffer
	buf := make([]byte, 4096)
	aborted := false
	for {
		n, readErr := resp.Body.Read(buf)
		seen.Write(buf[:n])
		if bytes.ContainsRune(seen.Bytes(), '+') {
			resp.Context.Abort()
			aborted = true
			break
		}
		if readErr != nil {
			break
		}
	}

	require.True(t, aborted, "must have seen the sentinel byte before EOF")
	assert.Contains(t, seen.String(), "bad+")
	assert.NotContains(t, seen.String(), "never-seen")

	select {
	case <-eng.stopCh:
	case <-time.After(time.Second):
		t.Fatal("engine never observed the abort")
	}
}

// TestResponseFutureWaitIsRepeatable mirrors spec.md's write-once/re-poll
// property from the caller's side: calling Wait a second time after the
// future has already resolved must return the same result instead of
// blocking forever.
func TestResponseFutureWaitIsRepeatable(t *testing.T) {
	h, err := New(&fakeEngine{})
	require.NoError(t, err)
	defer h.Close()

	future, err := h.SubmitRequest(&Request{Method: "GET", URL: "http://example.com/"})
	require.NoError(t, err)

	first, err := future.Wait()
	require.NoError(t, err)

	second, err := future.Wait()
	require.NoError(t, err)
	assert.Equal(t, first.StatusCode, second.StatusCode)
}
