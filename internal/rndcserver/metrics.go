// Copyright (c) 2023-2024 Canonical Ltd
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
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package rndcserver

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Server's prometheus.Collectors. Callers register them
// with a *prometheus.Registry of their choosing via Collectors.
type metrics struct {
	sessionsTotal     *prometheus.CounterVec
	authFailuresTotal prometheus.Counter
	handlerDuration   prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rndc",
			Name:      "sessions_total",
			Help:      "RNDC control sessions handled, by outcome.",
		}, []string{"result"}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rndc",
			Name:      "auth_failures_total",
			Help:      "RNDC sessions rejected because no configured key validated.",
		}),
		handlerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rndc",
			Name:      "handler_duration_seconds",
			Help:      "Time spent running a session end to end, including the command handler.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Collectors returns the Server's metrics for registration with a
// prometheus.Registerer.
func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.metrics.sessionsTotal,
		s.metrics.authFailuresTotal,
		s.metrics.handlerDuration,
	}
}
