// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports poll, sensor and access counters in the
// Prometheus text format.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

const namespace = "coffer"

// Poll results used as the "result" label.
const (
	ResultOK     = "ok"
	ResultBus    = "bus"
	ResultLength = "length"
	ResultSchema = "schema"
	ResultCRC    = "crc"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	polls       *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	sound       prometheus.Gauge
	tilt        prometheus.Gauge
	stale       prometheus.Gauge

	events         *prometheus.CounterVec
	phase          prometheus.Gauge
	failedAttempts prometheus.Gauge
	present        prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "polls_total",
			Help: "Telemetry bus polls by result.",
		}, []string{"result"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "anomalies_total",
			Help: "Record fields outside their plausible range.",
		}, []string{"field"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "temperature_celsius",
			Help: "Last reported temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "humidity_percent",
			Help: "Last reported relative humidity.",
		}),
		sound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "sound_percent",
			Help: "Last reported sound level.",
		}),
		tilt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "tilt",
			Help: "1 when the enclosure reports tilt.",
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "telemetry", Name: "stale",
			Help: "1 when the last poll failed and the reading is from an earlier one.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "access", Name: "events_total",
			Help: "Access decisions by kind.",
		}, []string{"kind"}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "access", Name: "phase",
			Help: "Numeric controller phase.",
		}),
		failedAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "access", Name: "failed_attempts",
			Help: "Consecutive failed attempts since the last grant.",
		}),
		present: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "proximity", Name: "present",
			Help: "1 while a user is within the wake threshold.",
		}),
	}
	m.reg.MustRegister(
		m.polls, m.anomalies,
		m.temperature, m.humidity, m.sound, m.tilt, m.stale,
		m.events, m.phase, m.failedAttempts, m.present,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObservePoll matches telemetry.LinkConfig.OnPoll.
func (m *Metrics) ObservePoll(r telemetry.Reading, anomalies []telemetry.ValidationError) {
	m.polls.WithLabelValues(PollResult(r.Err)).Inc()
	for _, a := range anomalies {
		m.anomalies.WithLabelValues(a.Type.String()).Inc()
	}
	m.stale.Set(boolGauge(r.Stale))
	if !r.Valid {
		return
	}
	m.temperature.Set(float64(r.Record.Temperature))
	m.humidity.Set(float64(r.Record.Humidity))
	m.sound.Set(float64(r.Record.SoundPercent))
	m.tilt.Set(boolGauge(r.Record.Tilt))
}

// ObserveEvent matches access.Observer.
func (m *Metrics) ObserveEvent(e access.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	m.phase.Set(float64(e.Phase))
	m.failedAttempts.Set(float64(e.FailedAttempts))
}

// SetPhase records the current controller phase.
func (m *Metrics) SetPhase(p access.Phase) {
	m.phase.Set(float64(p))
}

// SetPresent records user presence.
func (m *Metrics) SetPresent(v bool) {
	m.present.Set(boolGauge(v))
}

// PollResult classifies a poll error into a result label.
func PollResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, telemetry.ErrRecordLength):
		return ResultLength
	case errors.Is(err, telemetry.ErrSchemaVersion), errors.Is(err, telemetry.ErrInvalidBool):
		return ResultSchema
	case errors.Is(err, telemetry.ErrCRCMismatch):
		return ResultCRC
	default:
		return ResultBus
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
