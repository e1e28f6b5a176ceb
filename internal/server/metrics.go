// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionsTotal counts accepted client connections.
// Use RegisterMetrics to register this with a Prometheus registry.
var ConnectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "resetd_connections_total",
		Help: "Total number of accepted client connections",
	},
)

// ConnectionsActive tracks currently open client connections.
// Use RegisterMetrics to register this with a Prometheus registry.
var ConnectionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "resetd_connections_active",
		Help: "Number of currently open client connections",
	},
)

// CommandsTotal counts executed commands by verb and answer status.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resetd_commands_total",
		Help: "Total number of executed commands",
	},
	[]string{"verb", "status"},
)

// CommandDuration is the histogram of command execution time.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "resetd_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"verb"},
)

// RegisterMetrics registers server metrics with the given Prometheus
// registry. This must be called at startup to make metrics available on
// /metrics. Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ConnectionsTotal)
	reg.MustRegister(ConnectionsActive)
	reg.MustRegister(CommandsTotal)
	reg.MustRegister(CommandDuration)
}
