// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports protocol stack activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/protocol"
	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "ramsestat"

// Metrics holds the collectors for one stack. Each instance has its own
// registry so tests and multiple stacks do not collide.
type Metrics struct {
	registry *prometheus.Registry

	lines        prometheus.Counter
	invalidLines *prometheus.CounterVec
	messages     *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
	commandsSent *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	lastMessage  prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "lines_total",
			Help:      "Frame lines received from the gateway.",
		}),
		invalidLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "invalid_lines_total",
				Help:      "Lines that failed to parse, by failure kind.",
			},
			[]string{"kind"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "protocol",
				Name:      "messages_total",
				Help:      "Decoded messages by verb and code.",
			},
			[]string{"verb", "code"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "protocol",
				Name:      "anomalies_total",
				Help:      "Validation anomalies in decoded messages.",
			},
			[]string{"type"},
		),
		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stack",
				Name:      "commands_sent_total",
				Help:      "Frames written, split into first attempts and retries.",
			},
			[]string{"code", "attempt"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stack",
				Name:      "command_outcomes_total",
				Help:      "Finished commands by outcome.",
			},
			[]string{"code", "outcome"},
		),
		lastMessage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "last_message_timestamp_seconds",
			Help:      "Unix time of the last decoded message.",
		}),
	}

	m.registry.MustRegister(
		m.lines,
		m.invalidLines,
		m.messages,
		m.anomalies,
		m.commandsSent,
		m.outcomes,
		m.lastMessage,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing the handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveMessage counts a decoded message and its anomalies
func (m *Metrics) ObserveMessage(msg *ramses.Message) {
	m.lines.Inc()
	m.messages.WithLabelValues(msg.Verb().Token(), msg.Code().String()).Inc()
	m.lastMessage.Set(float64(msg.Timestamp().UnixNano()) / float64(time.Second))
	for _, v := range ramses.ValidateMessage(msg) {
		m.anomalies.WithLabelValues(v.Type.String()).Inc()
	}
}

// ObserveInvalid counts a line that failed to parse
func (m *Metrics) ObserveInvalid(err error) {
	m.lines.Inc()
	kind := "other"
	var pe *ramses.InvalidPacketError
	if errors.As(err, &pe) {
		kind = pe.Kind.String()
	}
	m.invalidLines.WithLabelValues(kind).Inc()
}

// ObserveSent counts a written frame
func (m *Metrics) ObserveSent(cmd *ramses.Command, attempt int) {
	label := "first"
	if attempt > 1 {
		label = "retry"
	}
	m.commandsSent.WithLabelValues(cmd.Code.String(), label).Inc()
}

// ObserveOutcome counts a finished command
func (m *Metrics) ObserveOutcome(cmd *ramses.Command, o protocol.Outcome) {
	m.outcomes.WithLabelValues(cmd.Code.String(), o.Kind.String()).Inc()
}

// Hooks returns stack hooks that record metrics and then call next
func (m *Metrics) Hooks(next protocol.Hooks) protocol.Hooks {
	return protocol.Hooks{
		OnMessage: func(msg *ramses.Message) {
			m.ObserveMessage(msg)
			if next.OnMessage != nil {
				next.OnMessage(msg)
			}
		},
		OnOutcome: func(cmd *ramses.Command, o protocol.Outcome) {
			m.ObserveOutcome(cmd, o)
			if next.OnOutcome != nil {
				next.OnOutcome(cmd, o)
			}
		},
		OnInvalidLine: func(line []byte, err error) {
			m.ObserveInvalid(err)
			if next.OnInvalidLine != nil {
				next.OnInvalidLine(line, err)
			}
		},
		OnSent: func(cmd *ramses.Command, attempt int) {
			m.ObserveSent(cmd, attempt)
			if next.OnSent != nil {
				next.OnSent(cmd, attempt)
			}
		},
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx ends
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
