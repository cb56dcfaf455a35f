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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqagent/agent/internal/netpoll"
)

// recordingPoller is a netpoll.Poller double that just records every
// Add/Modify/Delete call so a test can assert on the exact Event.Key the
// agent handed it, without needing a real epoll/kqueue fd.
type recordingPoller struct {
	adds, modifies, deletes []netpoll.Event
	waitEvents              []netpoll.Event
}

func (p *recordingPoller) Add(fd int, ev netpoll.Event) error {
	p.adds = append(p.adds, ev)
	return nil
}
func (p *recordingPoller) Modify(fd int, ev netpoll.Event) error {
	p.modifies = append(p.modifies, ev)
	return nil
}
func (p *recordingPoller) Delete(fd int) error {
	p.deletes = append(p.deletes, netpoll.Event{Key: fd})
	return nil
}
func (p *recordingPoller) Wait(events []netpoll.Event, timeout time.Duration) ([]netpoll.Event, error) {
	return append(events, p.waitEvents...), nil
}
func (p *recordingPoller) Notify() error { return nil }
func (p *recordingPoller) Close() error  { return nil }

// assignRecordingEngine is an Engine double that only records Assign calls;
// every other method is a no-op, since this test only exercises
// applySocketUpdate/wait, never a real transfer.
type assignRecordingEngine struct {
	fakeEngine
	assigned       []SocketKey
	onTimeout      func() error
	onActionSocket func(fd int, readable, writable bool) error
}

func (e *assignRecordingEngine) Assign(fd int, token SocketKey) error {
	e.assigned = append(e.assigned, token)
	return nil
}

func (e *assignRecordingEngine) ActionTimeout() error {
	if e.onTimeout != nil {
		return e.onTimeout()
	}
	return nil
}

func (e *assignRecordingEngine) ActionSocket(fd int, readable, writable bool) error {
	if e.onActionSocket != nil {
		return e.onActionSocket(fd, readable, writable)
	}
	return nil
}

// TestApplySocketUpdateAddAssignsSlotPlusOne is a direct regression test for
// the SocketKey/token confusion: slot 0 must never be handed to the engine
// as a SocketKey, since 0 is the sentinel this same code uses to recognize
// an unassigned socket on the very next update for that fd.
func TestApplySocketUpdateAddAssignsSlotPlusOne(t *testing.T) {
	poller := &recordingPoller{}
	eng := &assignRecordingEngine{}
	a := newAgent(eng, poller, defaultOptions())

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsOutput, token: 0}))
	require.Len(t, poller.adds, 1)
	assert.Equal(t, 0, poller.adds[0].Key, "the poller's own key stays the raw 0-based slot")
	require.Len(t, eng.assigned, 1)
	assert.Equal(t, SocketKey(1), eng.assigned[0], "the engine-facing token must be slot+1, never 0")

	fd, ok := a.sockets.Get(0)
	require.True(t, ok)
	assert.Equal(t, 7, fd)
}

// TestApplySocketUpdateModifyAndRemoveUndoTheOffset checks the other two
// branches translate the token back to the 0-based slot before touching
// either the socket slab or the poller.
func TestApplySocketUpdateModifyAndRemoveUndoTheOffset(t *testing.T) {
	poller := &recordingPoller{}
	eng := &assignRecordingEngine{}
	a := newAgent(eng, poller, defaultOptions())

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsOutput, token: 0}))
	token := eng.assigned[0]

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsInput, token: token}))
	require.Len(t, poller.modifies, 1)
	assert.Equal(t, 0, poller.modifies[0].Key, "Modify must translate the token back to the raw slot")

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsRemove, token: token}))
	_, ok := a.sockets.Get(0)
	assert.False(t, ok, "Remove must free the slot the offset token maps back to")
}

// TestApplySocketUpdateSecondSocketGetsDistinctToken guards against a
// regression where the +1 offset is applied inconsistently across sockets:
// the second registered socket must not collide with the first's token.
func TestApplySocketUpdateSecondSocketGetsDistinctToken(t *testing.T) {
	poller := &recordingPoller{}
	eng := &assignRecordingEngine{}
	a := newAgent(eng, poller, defaultOptions())

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsOutput, token: 0}))
	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 8, events: EventsOutput, token: 0}))
	require.Len(t, eng.assigned, 2)
	assert.NotEqual(t, eng.assigned[0], eng.assigned[1])

	fd, ok := a.sockets.Get(1)
	require.True(t, ok)
	assert.Equal(t, 8, fd)
}

// TestWaitDoesNotLeakPhantomEvents is a direct regression test for the
// waitBuf append-semantics bug: waitBuf used to be handed to Poller.Wait
// pre-populated with zero-value events, which Wait (an append-style API)
// would then return ahead of the real ones.
func TestWaitDoesNotLeakPhantomEvents(t *testing.T) {
	poller := &recordingPoller{}
	eng := &assignRecordingEngine{}
	a := newAgent(eng, poller, defaultOptions())

	require.NoError(t, a.applySocketUpdate(socketUpdate{fd: 7, events: EventsOutput, token: 0}))
	a.pending = a.pending[:0]

	timeoutCalls := 0
	eng.onTimeout = func() error { timeoutCalls++; return nil }
	require.NoError(t, a.wait())
	assert.Equal(t, 1, timeoutCalls, "an empty Wait result must still reach ActionTimeout, not be masked by phantom events")

	actioned := 0
	eng.onActionSocket = func(fd int, readable, writable bool) error {
		actioned++
		assert.Equal(t, 7, fd)
		return nil
	}
	poller.waitEvents = []netpoll.Event{{Key: 0, Readable: true}}
	require.NoError(t, a.wait())
	assert.Equal(t, 1, actioned, "exactly one real event must be delivered, with no phantom zero-value events ahead of it")
}
