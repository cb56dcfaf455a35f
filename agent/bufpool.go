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

import "sync"

const chunkSize = 32 * 1024

// chunkPool recycles the fixed-size buffers a requestBody's pump goroutine
// reads into, so a slow pipe doesn't force a fresh allocation per chunk.
// This mirrors the teacher's bsPool address-reuse pattern in
// connection.go's releaseTCP (core/connection.go): borrow on write, return
// once the reader has fully drained it.
var chunkPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, chunkSize)
		return &b
	},
}

func getChunk() []byte {
	return *(chunkPool.Get().(*[]byte))
}

// putChunk returns a buffer previously obtained from getChunk. Buffers not
// originally sized chunkSize (there are none in practice, since only the
// pump allocates through this pool) are simply dropped rather than stored.
func putChunk(b []byte) {
	if cap(b) != chunkSize {
		return
	}
	b = b[:chunkSize]
	chunkPool.Put(&b)
}
