// Copyright 2025 Quintet
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package governance

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promGateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quintet_gate_decisions_total",
			Help: "Total number of permission gate decisions",
		},
		[]string{"outcome", "category"},
	)
	promGateLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quintet_gate_decision_duration_seconds",
			Help:    "Permission gate decision latency",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
	)
	promPolicyMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quintet_policy_mutations_total",
			Help: "Total number of envelope/grant/linkage mutations",
		},
		[]string{"action", "outcome"},
	)
	promCascadeRevocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quintet_cascade_revocations_total",
			Help: "Total number of grants revoked by envelope cascades",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promGateDecisions)
	prometheus.MustRegister(promGateLatency)
	prometheus.MustRegister(promPolicyMutations)
	prometheus.MustRegister(promCascadeRevocations)
}
