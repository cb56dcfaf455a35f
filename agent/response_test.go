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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseFutureFinishDeliversHeadAndBody(t *testing.T) {
	future, producer := newResponseFuture()
	producer.StatusCode = 200
	producer.Proto = "HTTP/1.1"
	producer.Header.Set("Content-Type", "text/plain")

	ctx := NewRequestContext()
	body := newBody(newBytePipe(nil), ctx)

	ok := producer.Finish(body, ctx)
	require.True(t, ok)

	resp, err := future.Wait()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Same(t, body, resp.Body)
}

func TestResponseProducerCompletesAtMostOnce(t *testing.T) {
	future, producer := newResponseFuture()
	ctx := NewRequestContext()
	body := newBody(newBytePipe(nil), ctx)

	assert.True(t, producer.Finish(body, ctx))
	assert.False(t, producer.Finish(body, ctx), "a second Finish must be rejected")
	assert.False(t, producer.CompleteWithError(errors.New("too late")))

	_, err := future.Wait()
	assert.NoError(t, err)
}

func TestResponseProducerCompleteWithErrorResolvesFuture(t *testing.T) {
	future, producer := newResponseFuture()
	wantErr := errors.New("boom")

	ok := producer.CompleteWithError(wantErr)
	require.True(t, ok)

	_, err := future.Wait()
	assert.Same(t, wantErr, err)
}

func TestResponseFutureCloseMarksProducerCanceled(t *testing.T) {
	future, producer := newResponseFuture()
	assert.Equal(t, StateActive, producer.State())

	future.Close()
	assert.Equal(t, StateCanceled, producer.State())

	ctx := NewRequestContext()
	body := newBody(newBytePipe(nil), ctx)
	ok := producer.Finish(body, ctx)
	assert.False(t, ok, "Finish after the future is dropped must report rejection")
}

func TestResponseFutureCloseIsIdempotent(t *testing.T) {
	future, _ := newResponseFuture()
	future.Close()
	future.Close()
}
