/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the Diagnostic Supervisor's cross-cutting
// counters and gauges (spec.md §4.6): bus backpressure events, repair
// queue depth, fault vault size, and section state transitions. Section
// transitions are dual-emitted: a Prometheus counter for scraping, and an
// OpenTelemetry counter plus trace span for deployments running an otel
// collector, both driven off the process's global otel providers so a
// caller that never configures one still gets a safe no-op.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics bundles every collector the fabric registers. Construct one
// instance per process and thread it into the Bus and Diagnostic
// Supervisor at wiring time.
type Metrics struct {
	BackpressureEvents   *prometheus.CounterVec
	MailboxDepth         *prometheus.GaugeVec
	RepairQueueDepth     prometheus.Gauge
	FaultVaultSize       *prometheus.GaugeVec
	SectionTransitions   *prometheus.CounterVec
	ClassificationErrors prometheus.Counter

	tracer          trace.Tracer
	otelTransitions metric.Int64Counter
}

// ObserveSectionTransition records one section lifecycle transition against
// both the Prometheus counter and the otel counter/span, so a deployment
// scraping Prometheus and one shipping traces to a collector both see it.
func (m *Metrics) ObserveSectionTransition(ctx context.Context, sectionID, state string) {
	m.SectionTransitions.WithLabelValues(sectionID, state).Inc()
	if m.otelTransitions != nil {
		m.otelTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("section_id", sectionID),
			attribute.String("state", state),
		))
	}
	if m.tracer != nil {
		_, span := m.tracer.Start(ctx, "section."+state, trace.WithAttributes(
			attribute.String("section_id", sectionID),
		))
		span.End()
	}
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	meter := otel.Meter("coordfab")
	otelTransitions, _ := meter.Int64Counter("coordfab.ecc.section_transitions",
		metric.WithDescription("Count of section lifecycle transitions by target state."))

	m := &Metrics{
		tracer:          otel.Tracer("coordfab"),
		otelTransitions: otelTransitions,
		BackpressureEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordfab",
			Subsystem: "bus",
			Name:      "backpressure_events_total",
			Help:      "Count of backpressure actions (drop or evict) by subscriber topic.",
		}, []string{"topic", "action"}),
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordfab",
			Subsystem: "bus",
			Name:      "mailbox_depth",
			Help:      "Current queued signal count per subscriber topic.",
		}, []string{"topic"}),
		RepairQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coordfab",
			Subsystem: "diagnostic",
			Name:      "repair_queue_depth",
			Help:      "Current length of the repair queue.",
		}),
		FaultVaultSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordfab",
			Subsystem: "diagnostic",
			Name:      "fault_vault_size",
			Help:      "Current fault vault size by severity.",
		}, []string{"severity"}),
		SectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordfab",
			Subsystem: "ecc",
			Name:      "section_transitions_total",
			Help:      "Count of section lifecycle transitions by target state.",
		}, []string{"section_id", "state"}),
		ClassificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coordfab",
			Subsystem: "locker",
			Name:      "classification_errors_total",
			Help:      "Count of classification calls that exhausted retries.",
		}),
	}

	reg.MustRegister(
		m.BackpressureEvents,
		m.MailboxDepth,
		m.RepairQueueDepth,
		m.FaultVaultSize,
		m.SectionTransitions,
		m.ClassificationErrors,
	)
	return m
}
