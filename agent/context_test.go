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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestContextResultUnsetInitially(t *testing.T) {
	ctx := NewRequestContext()
	_, ok := ctx.Result()
	assert.False(t, ok)
}

func TestRequestContextResultWriteOnce(t *testing.T) {
	ctx := NewRequestContext()
	first := errors.New("first")
	second := errors.New("second")

	ctx.SetResult(first)
	ctx.SetResult(second)

	err, ok := ctx.Result()
	assert.True(t, ok)
	assert.Same(t, first, err, "second SetResult must not overwrite the first")
}

func TestRequestContextResultSuccessIsNilError(t *testing.T) {
	ctx := NewRequestContext()
	ctx.SetResult(nil)
	err, ok := ctx.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestRequestContextAbortIsIdempotent(t *testing.T) {
	ctx := NewRequestContext()
	assert.False(t, ctx.IsAborted())
	ctx.Abort()
	ctx.Abort()
	assert.True(t, ctx.IsAborted())
}

func TestRequestContextConcurrentSetResult(t *testing.T) {
	ctx := NewRequestContext()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				ctx.SetResult(errors.New("racer"))
			} else {
				ctx.SetResult(nil)
			}
		}(i)
	}
	wg.Wait()

	_, ok := ctx.Result()
	assert.True(t, ok)
}
