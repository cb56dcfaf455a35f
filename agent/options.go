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

import "time"

// Options configures an Agent at construction time, matching the teacher's
// functional-options style in core/options.go. New starts from
// defaultOptions, not the zero value (a zero PollTimeout would make every
// wait return immediately).
type Options struct {
	MaxConnections        int
	MaxConnectionsPerHost int
	ConnectionCacheSize   int
	ReadBufferSize        int
	PollTimeout           time.Duration
	EnableMetrics         bool
	Name                  string
}

// Option mutates an Options value. Returned by the With* constructors below
// and applied in order by New.
type Option func(*Options)

// defaultOptions sets the connection limits and cache size to the reference
// engine's own defaults (unlimited connections, 8 idle connections per
// host), so that an Agent built with no options behaves the same as one
// built with them spelled out explicitly.
func defaultOptions() Options {
	return Options{
		MaxConnections:        0, // unlimited
		MaxConnectionsPerHost: 0, // unlimited
		ConnectionCacheSize:   8,
		ReadBufferSize:        64 * 1024,
		PollTimeout:           100 * time.Millisecond,
	}
}

// WithMaxConnections sets the total-connection limit New passes to
// Engine.SetMaxTotalConnections. n <= 0 means unlimited. The reference
// engine (package engine) stores the limit but does not check it before
// dialing.
func WithMaxConnections(n int) Option {
	return func(o *Options) { o.MaxConnections = n }
}

// WithMaxConnectionsPerHost sets the per-host connection limit New passes
// to Engine.SetMaxHostConnections. n <= 0 means unlimited. The reference
// engine stores the limit but does not check it before dialing.
func WithMaxConnectionsPerHost(n int) Option {
	return func(o *Options) { o.MaxConnectionsPerHost = n }
}

// WithConnectionCacheSize sets how many idle connections the engine's pool
// keeps warm per host.
func WithConnectionCacheSize(n int) Option {
	return func(o *Options) { o.ConnectionCacheSize = n }
}

// WithReadBufferSize sets Options.ReadBufferSize. Neither the agent nor the
// reference engine reads this field; the reference engine reads each socket
// through a fixed 16 KiB buffer.
func WithReadBufferSize(n int) Option {
	return func(o *Options) { o.ReadBufferSize = n }
}

// WithPollTimeout bounds how long a single iteration of the agent's wait
// phase may block when neither the engine nor the poller has a nearer
// deadline. Keeping this short (rather than blocking indefinitely) is what
// lets ActionTimeout run even when no socket ever becomes ready.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Options) { o.PollTimeout = d }
}

// WithName registers the Agent in the process-wide registry under name, so
// it shows up in Registered/Lookup (and, from a host process, an admin
// server's /agents endpoint) until its Handle is closed. Unset (the
// default) means the agent is never registered.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithMetrics turns on the agent's Metrics record and its Prometheus
// registration. Off by default, since most embedders of this library have
// no Prometheus registry to hand it.
func WithMetrics(enabled bool) Option {
	return func(o *Options) { o.EnableMetrics = enabled }
}
