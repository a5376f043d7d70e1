// Package metrics provides Prometheus instrumentation for the moderation
// engine. It exposes counters for message evaluation and enforcement
// throughput, gauges for outstanding challenges, and histograms for
// evaluation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound messages by handling result:
	// "clean", "violation", "challenge_answer", "off_mode", "banned",
	// "system_deleted".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modengine_messages_total",
		Help: "Total number of inbound messages processed",
	}, []string{"result"})

	// ViolationsTotal counts detector violations by reason:
	// "forbidden_word", "url", "mention".
	ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modengine_violations_total",
		Help: "Total number of detected content violations",
	}, []string{"reason"})

	// ChallengesActive tracks the number of outstanding captcha challenges.
	ChallengesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modengine_challenges_active",
		Help: "Current number of outstanding captcha challenges",
	})

	// ChallengesTotal counts resolved challenges by outcome:
	// "passed", "expired", "replaced".
	ChallengesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modengine_challenges_total",
		Help: "Total number of captcha challenges by outcome",
	}, []string{"outcome"})

	// EnforcementsTotal counts gateway enforcement calls by action and
	// status ("ok" or "error"). Actions: "delete", "ban", "kick", "send".
	EnforcementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modengine_enforcements_total",
		Help: "Total number of enforcement gateway calls",
	}, []string{"action", "status"})

	// PolicyRefreshTotal counts policy refresh attempts by kind
	// ("words", "mode") and status ("ok", "error").
	PolicyRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modengine_policy_refresh_total",
		Help: "Total number of policy refresh attempts",
	}, []string{"kind", "status"})

	// EvaluateLatency records detector evaluation latency in seconds.
	EvaluateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modengine_evaluate_latency_seconds",
		Help:    "Content evaluation latency in seconds",
		Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		ViolationsTotal,
		ChallengesActive,
		ChallengesTotal,
		EnforcementsTotal,
		PolicyRefreshTotal,
		EvaluateLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
