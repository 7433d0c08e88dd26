// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
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

// Package telemetry exposes the supervisor's Prometheus instrumentation.
// It is safe to call from hot paths; label cardinality is bounded by the
// instrument configuration (chemicals, leak-check segments, event types).
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pressurePSIG = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "washer_pressure_psig",
		Help: "Latest flowpath gauge pressure sample",
	})
	overPressureAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washer_over_pressure_aborts_total",
		Help: "Instrument halts initiated by the pressure monitor",
	})
	dispensedMicrolitersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washer_dispensed_microliters_total",
		Help: "Volume metered into the reaction vessel, by chemical",
	}, []string{"chemical"})
	drainsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "washer_vessel_drains_total",
		Help: "Completed reaction-vessel drains",
	})
	leakCheckFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washer_leak_check_failures_total",
		Help: "Leak-check failures, by flowpath segment",
	}, []string{"segment"})
	jobEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "washer_job_events_total",
		Help: "Job lifecycle events appended to history",
	}, []string{"type"})
)

func init() {
	// Register metrics eagerly. If no endpoint is exposed, the registration is harmless.
	prometheus.MustRegister(pressurePSIG, overPressureAbortsTotal,
		dispensedMicrolitersTotal, drainsTotal, leakCheckFailuresTotal, jobEventsTotal)
}

// ObservePressure records the latest monitor sample.
func ObservePressure(psig float64) { pressurePSIG.Set(psig) }

// ObserveOverPressureAbort counts a monitor-driven halt.
func ObserveOverPressureAbort() { overPressureAbortsTotal.Inc() }

// ObserveDispense counts metered volume per chemical.
func ObserveDispense(chemical string, microliters float64) {
	dispensedMicrolitersTotal.WithLabelValues(chemical).Add(microliters)
}

// ObserveDrain counts a completed vessel drain.
func ObserveDrain() { drainsTotal.Inc() }

// ObserveLeakCheckFailure counts a failed leak check for a segment.
func ObserveLeakCheckFailure(segment string) {
	leakCheckFailuresTotal.WithLabelValues(segment).Inc()
}

// ObserveJobEvent counts a job history event by type.
func ObserveJobEvent(eventType string) { jobEventsTotal.WithLabelValues(eventType).Inc() }

// StartMetricsEndpoint exposes /metrics on addr in a background goroutine.
func StartMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
