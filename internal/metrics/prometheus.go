// SPDX-License-Identifier: AGPL-3.0-or-later
// gb28181-sipgw - GB/T 28181 SIP signaling gateway
// Copyright (C) 2026 gb28181-sipgw contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/gb28181/sipgw>

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RegistrationsTotal    *prometheus.CounterVec
	ActiveDevices         prometheus.Gauge
	ActiveStreams         prometheus.Gauge
	DigestFailuresTotal   prometheus.Counter
	SweeperEvictionsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_registrations_total",
			Help: "The total number of REGISTER requests processed, by result",
		}, []string{"result"}),
		ActiveDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_active_devices",
			Help: "The current number of registered devices",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sip_active_streams",
			Help: "The current number of active media streams",
		}),
		DigestFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sip_digest_failures_total",
			Help: "The total number of REGISTER digest verification failures",
		}),
		SweeperEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_sweeper_evictions_total",
			Help: "The total number of entries evicted by the timeout sweeper, by kind",
		}, []string{"kind"}),
	}
	metrics.register()
	return metrics
}

func (m *Metrics) register() {
	prometheus.MustRegister(m.RegistrationsTotal)
	prometheus.MustRegister(m.ActiveDevices)
	prometheus.MustRegister(m.ActiveStreams)
	prometheus.MustRegister(m.DigestFailuresTotal)
	prometheus.MustRegister(m.SweeperEvictionsTotal)
}

// RecordRegistration increments the REGISTER counter for the given result
// ("accepted", "unregistered", "unauthorized").
func (m *Metrics) RecordRegistration(result string) {
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordDigestFailure increments the digest-verification failure counter.
func (m *Metrics) RecordDigestFailure() {
	m.DigestFailuresTotal.Inc()
}

// RecordSweeperEviction increments the sweeper eviction counter for the
// given kind ("device" or "stream").
func (m *Metrics) RecordSweeperEviction(kind string) {
	m.SweeperEvictionsTotal.WithLabelValues(kind).Inc()
}
