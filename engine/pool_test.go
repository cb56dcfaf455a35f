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

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnPoolGetEmpty(t *testing.T) {
	p := newConnPool()
	assert.Nil(t, p.get("example.com:80"))
}

func TestConnPoolPutThenGetReturnsSameConn(t *testing.T) {
	p := newConnPool()
	c := &pollableConn{fd: 42}
	p.put("example.com:80", c)

	got := p.get("example.com:80")
	assert.Same(t, c, got)
	assert.Nil(t, p.get("example.com:80"), "a connection handed out once must not be handed out twice")
}

func TestConnPoolIsPerHost(t *testing.T) {
	p := newConnPool()
	p.put("a.example.com:80", &pollableConn{fd: 1})
	assert.Nil(t, p.get("b.example.com:80"))
}

func TestConnPoolAllowNewConnectionLimits(t *testing.T) {
	p := newConnPool()
	p.setLimits(2, 1, defaultCacheSize)

	assert.True(t, p.allowNewConnection("a.example.com:80", 0, 0))
	assert.False(t, p.allowNewConnection("a.example.com:80", 1, 1), "per-host limit reached")
	assert.False(t, p.allowNewConnection("b.example.com:80", 0, 2), "total limit reached")
}

func TestConnPoolUnlimitedWhenZero(t *testing.T) {
	p := newConnPool()
	p.setLimits(0, 0, defaultCacheSize)
	assert.True(t, p.allowNewConnection("a.example.com:80", 1000, 1000))
}
