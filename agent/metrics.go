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
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the per-transfer counter record mentioned alongside
// "Progress / transfer-info" in the design: a small set of atomic counters
// the agent goroutine updates and any goroutine can read lock-free,
// exactly the single-writer/many-reader shape RequestContext uses.
type Metrics struct {
	BytesUploaded   atomic.Int64
	BytesDownloaded atomic.Int64
	RedirectCount   atomic.Int64

	StartedAt  atomic.Pointer[time.Time]
	ConnectedAt atomic.Pointer[time.Time]
	FinishedAt  atomic.Pointer[time.Time]

	prom *promMetrics
}

type promMetrics struct {
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// newMetrics builds a Metrics record. When enablePrometheus is true it also
// builds and registers the reqagent_transfer_duration_seconds histogram and
// reqagent_transfer_bytes_total counter, modeled on core/stats.go's
// ProxyStats, against the given registerer (typically
// prometheus.DefaultRegisterer). Registration failures (e.g. a duplicate
// registration in tests) are tolerated: metrics are a diagnostic nicety,
// never load-bearing for correctness.
func newMetrics(enablePrometheus bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if !enablePrometheus {
		return m
	}
	pm := &promMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqagent_transfer_duration_seconds",
			Help:    "Duration of completed HTTP transfers, by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqagent_transfer_bytes_total",
			Help: "Bytes transferred, by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		_ = reg.Register(pm.duration)
		_ = reg.Register(pm.bytes)
	}
	m.prom = pm
	return m
}

func (m *Metrics) markStarted() {
	now := time.Now()
	m.StartedAt.Store(&now)
}

func (m *Metrics) markConnected() {
	now := time.Now()
	m.ConnectedAt.Store(&now)
}

func (m *Metrics) addUploaded(n int64)   { m.BytesUploaded.Add(n) }
func (m *Metrics) addDownloaded(n int64) { m.BytesDownloaded.Add(n) }
func (m *Metrics) addRedirect()          { m.RedirectCount.Add(1) }

// markFinished records the terminal timestamp and, if Prometheus is wired,
// observes the transfer's duration and final byte counts. Called from
// RequestHandler.OnResult.
func (m *Metrics) markFinished(err error) {
	now := time.Now()
	m.FinishedAt.Store(&now)
	if m.prom == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if started := m.StartedAt.Load(); started != nil {
		m.prom.duration.WithLabelValues(outcome).Observe(now.Sub(*started).Seconds())
	}
	m.prom.bytes.WithLabelValues("uploaded").Add(float64(m.BytesUploaded.Load()))
	m.prom.bytes.WithLabelValues("downloaded").Add(float64(m.BytesDownloaded.Load()))
}
