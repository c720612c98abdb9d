package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsEstablished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_sessions_established_total",
		Help: "Sessions established, by mode (created or reused).",
	}, []string{"mode"})

	sessionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_session_evictions_total",
		Help: "Sessions evicted to make room under the per-principal cap.",
	})

	sessionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_session_limit_rejections_total",
		Help: "Establish calls rejected at the session cap.",
	})

	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_token_validations_total",
		Help: "Bearer token validations, by outcome.",
	}, []string{"outcome"})

	refreshRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_refresh_rotations_total",
		Help: "Refresh rotations, by outcome (rotated, reuse_blocked, failed).",
	}, []string{"outcome"})

	logouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_logouts_total",
		Help: "Logouts, by scope (current or all).",
	}, []string{"scope"})
)
