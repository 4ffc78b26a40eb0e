/*
 * This file is part of Murmur (https://github.com/murmurlabs/murmur).
 * Copyright (C) 2025 Murmur Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package metrics exposes Prometheus instrumentation for the capture
// core. All increment helpers are nil-receiver safe so instrumentation
// stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service.
type Metrics struct {
	// Pipeline metrics
	ChunksCaptured *prometheus.CounterVec
	ChunksEmitted  *prometheus.CounterVec
	ChunksDropped  *prometheus.CounterVec

	// Gate metrics
	GateTransitions *prometheus.CounterVec

	// Conversion metrics
	ConversionErrors *prometheus.CounterVec

	// Lifecycle metrics
	DeviceRestarts prometheus.Counter
	PipelinesUp    *prometheus.GaugeVec
}

// New creates and registers all capture metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_chunks_captured_total",
			Help: "Canonical chunks produced by format conversion, per source",
		}, []string{"source"}),
		ChunksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_chunks_emitted_total",
			Help: "Chunks passed through the voice activity gate, per source",
		}, []string{"source"}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_chunks_dropped_total",
			Help: "Render cycles or chunks discarded under backpressure, per source",
		}, []string{"source"}),
		GateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_gate_transitions_total",
			Help: "Voice activity gate state transitions, per source and resulting state",
		}, []string{"source", "to"}),
		ConversionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_conversion_errors_total",
			Help: "Runtime conversion failures absorbed on the processing queue, per source",
		}, []string{"source"}),
		DeviceRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_device_restarts_total",
			Help: "Full capture restarts triggered by debounced device reconfiguration",
		}),
		PipelinesUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "murmur_pipelines_up",
			Help: "Whether a capture pipeline is currently running, per source",
		}, []string{"source"}),
	}
}

// ChunkCaptured counts one converted chunk for a source.
func (m *Metrics) ChunkCaptured(source string) {
	if m == nil {
		return
	}
	m.ChunksCaptured.WithLabelValues(source).Inc()
}

// ChunkEmitted counts one gate-passed chunk for a source.
func (m *Metrics) ChunkEmitted(source string) {
	if m == nil {
		return
	}
	m.ChunksEmitted.WithLabelValues(source).Inc()
}

// ChunkDropped counts one discarded cycle or chunk for a source.
func (m *Metrics) ChunkDropped(source string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(source).Inc()
}

// GateTransition counts one gate state change for a source.
func (m *Metrics) GateTransition(source, to string) {
	if m == nil {
		return
	}
	m.GateTransitions.WithLabelValues(source, to).Inc()
}

// ConversionError counts one absorbed conversion failure.
func (m *Metrics) ConversionError(source string) {
	if m == nil {
		return
	}
	m.ConversionErrors.WithLabelValues(source).Inc()
}

// DeviceRestart counts one debounced restart cycle.
func (m *Metrics) DeviceRestart() {
	if m == nil {
		return
	}
	m.DeviceRestarts.Inc()
}

// PipelineUp records a pipeline's running state.
func (m *Metrics) PipelineUp(source string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.PipelinesUp.WithLabelValues(source).Set(v)
}
