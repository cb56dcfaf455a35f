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
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytePipeTrySendFullReportsBackpressure(t *testing.T) {
	p := newBytePipe(nil)
	for i := 0; i < bodyChannelCapacity; i++ {
		assert.True(t, p.trySend([]byte{byte(i)}))
	}
	assert.False(t, p.trySend([]byte{0xff}), "pipe at capacity must report backpressure")
}

func TestBytePipeWakesOnDrainFromFull(t *testing.T) {
	woke := 0
	p := newBytePipe(func() { woke++ })
	for i := 0; i < bodyChannelCapacity; i++ {
		require.True(t, p.trySend([]byte{byte(i)}))
	}
	assert.False(t, p.trySend([]byte{0xff}))

	_, ok, done := p.tryReceive()
	require.True(t, ok)
	require.False(t, done)
	assert.Equal(t, 1, woke, "draining a full pipe below capacity must wake the writer")
}

func TestBytePipeTrySendNeverWakes(t *testing.T) {
	woke := 0
	p := newBytePipe(func() { woke++ })
	assert.True(t, p.trySend([]byte("x")))
	assert.Equal(t, 0, woke, "trySend's only caller already runs on the waker's own goroutine; waking here would self-send into a possibly full mailbox")
}

func TestBytePipeCloseWithErrorIsIdempotent(t *testing.T) {
	p := newBytePipe(nil)
	boom := errors.New("boom")
	p.closeWithError(boom)
	p.closeWithError(errors.New("ignored"))
	assert.Same(t, boom, p.err())
}

func TestBodyReadOrdersChunksAndDefaultsToEOF(t *testing.T) {
	p := newBytePipe(nil)
	require.True(t, p.trySend([]byte("hello ")))
	require.True(t, p.trySend([]byte("world")))
	p.closeWithError(nil)

	ctx := NewRequestContext()
	ctx.SetResult(nil)
	body := newBody(p, ctx)

	buf := make([]byte, 4)
	var out []byte
	for {
		n, err := body.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, "hello world", string(out))
}

func TestBodyReadSurfacesTransferError(t *testing.T) {
	p := newBytePipe(nil)
	wantErr := errors.New("connection reset")
	p.closeWithError(wantErr)

	ctx := NewRequestContext()
	ctx.SetResult(wantErr)
	body := newBody(p, ctx)

	_, err := body.Read(make([]byte, 16))
	assert.Same(t, wantErr, err)
}

func TestBodyCloseAbortsContext(t *testing.T) {
	ctx := NewRequestContext()
	body := newBody(newBytePipe(nil), ctx)
	assert.False(t, ctx.IsAborted())
	require.NoError(t, body.Close())
	assert.True(t, ctx.IsAborted())
}
