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

package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlabInsertGetRemove(t *testing.T) {
	s := New[string]()
	k1 := s.VacantKey()
	assert.Equal(t, 0, k1)
	s.Insert(k1, "a")

	k2 := s.VacantKey()
	assert.Equal(t, 1, k2)
	s.Insert(k2, "b")

	assert.Equal(t, 2, s.Len())

	v, ok := s.Get(k1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = s.Remove(k1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get(k1)
	assert.False(t, ok)
}

func TestSlabReusesFreedKeys(t *testing.T) {
	s := New[int]()
	k1 := s.VacantKey()
	s.Insert(k1, 1)
	s.Remove(k1)

	k2 := s.VacantKey()
	assert.Equal(t, k1, k2, "freed slot should be reused before growing")
}

func TestSlabReleaseWithoutInsert(t *testing.T) {
	s := New[int]()
	k := s.VacantKey()
	s.Release(k)
	assert.Equal(t, 0, s.Len())

	k2 := s.VacantKey()
	assert.Equal(t, k, k2)
}

func TestSlabClearVisitsEveryOccupiedEntry(t *testing.T) {
	s := New[int]()
	k1 := s.VacantKey()
	s.Insert(k1, 10)
	k2 := s.VacantKey()
	s.Insert(k2, 20)

	seen := map[int]int{}
	s.Clear(func(key int, val int) { seen[key] = val })

	assert.Equal(t, map[int]int{k1: 10, k2: 20}, seen)
	assert.Equal(t, 0, s.Len())
}

func TestSlabGetOutOfRange(t *testing.T) {
	s := New[int]()
	_, ok := s.Get(-1)
	assert.False(t, ok)
	_, ok = s.Get(100)
	assert.False(t, ok)
}
