// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the authentication counters. A nil *Metrics records nothing.
type Metrics struct {
	LoginAttempts  *prometheus.CounterVec
	Rotations      *prometheus.CounterVec
	ReuseDetected  prometheus.Counter
	PasswordResets *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
}

// NewMetrics creates the authentication counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_login_attempts_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		Rotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_refresh_rotations_total",
				Help: "Total number of refresh token rotations by result",
			},
			[]string{"result"},
		),
		ReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_token_reuse_detected_total",
			Help: "Total number of rotated refresh tokens presented again",
		}),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_password_reset_total",
				Help: "Total number of password reset operations by stage and result",
			},
			[]string{"stage", "result"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_registrations_total",
				Help: "Total number of registrations by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.LoginAttempts, m.Rotations, m.ReuseDetected, m.PasswordResets, m.Registrations)
	return m
}

// resultLabel maps an error onto a low-cardinality label value.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := Code(err); code != "" {
		return code
	}
	return Classify(err).String()
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) rotation(err error) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) reuse() {
	if m == nil {
		return
	}
	m.ReuseDetected.Inc()
}

func (m *Metrics) reset(stage string, err error) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage, resultLabel(err)).Inc()
}

func (m *Metrics) registration(err error) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(resultLabel(err)).Inc()
}
