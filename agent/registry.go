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
	"github.com/cornelk/hashmap"
)

// registry is the process-wide set of live agents, mirroring
// core/cluster.go's ServerMap: a lock-free, read-mostly map that is
// written rarely (on spawn and on shutdown) and read concurrently by
// anything wanting a live snapshot, such as an admin server's /agents
// endpoint.
var registry hashmap.HashMap

// Registered returns the names of every agent currently registered.
func Registered() []string {
	names := make([]string, 0, registry.Len())
	for kv := range registry.Iter() {
		if name, ok := kv.Key.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// Lookup returns the Handle registered under name, if any.
func Lookup(name string) (*Handle, bool) {
	v, ok := registry.Get(name)
	if !ok {
		return nil, false
	}
	h, ok := v.(*Handle)
	return h, ok
}

// register adds h to the process-wide registry under name. Safe to call
// concurrently from any number of agents spawned in the same process.
func register(name string, h *Handle) {
	if name == "" {
		return
	}
	registry.Insert(name, h)
}

// deregister removes name from the process-wide registry. Called once an
// agent's Handle.Close has joined its goroutine.
func deregister(name string) {
	if name == "" {
		return
	}
	registry.Del(name)
}
