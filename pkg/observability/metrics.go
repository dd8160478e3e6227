// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesRouted  *prometheus.CounterVec
	TaskTransitions *prometheus.CounterVec
	HITLDecisions   *prometheus.CounterVec
	RLUpdates       prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the service collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Name:      "messages_routed_total",
			Help:      "Messages routed, by outcome.",
		}, []string{"outcome"}),
		TaskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Name:      "task_transitions_total",
			Help:      "Task lifecycle transitions, by target status.",
		}, []string{"status"}),
		HITLDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Name:      "hitl_decisions_total",
			Help:      "Human approval decisions, by result.",
		}, []string{"decision"}),
		RLUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Name:      "rl_updates_total",
			Help:      "Q-learning updates applied.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaymesh",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.MessagesRouted,
		m.TaskTransitions,
		m.HITLDecisions,
		m.RLUpdates,
		m.RequestDuration,
	)
	return m
}
