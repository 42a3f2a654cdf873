// Package metrics provides Prometheus metrics for the session controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speedgauge"

// Label constants for consistent labeling across metrics.
const (
	LabelReason = "reason" // running, engine_busy, engine_unavailable, start_failed
	LabelField  = "field"  // download, upload, ping, jitter, download_fraction, upload_fraction
	LabelCause  = "cause"  // idle, stale_session
)

// Start rejection reasons.
const (
	ReasonAlreadyRunning    = "running"
	ReasonEngineBusy        = "engine_busy"
	ReasonEngineUnavailable = "engine_unavailable"
	ReasonStartFailed       = "start_failed"
)

// Ignored event causes.
const (
	CauseIdle         = "idle"
	CauseStaleSession = "stale_session"
)

var (
	// SessionsStartedTotal counts sessions that transitioned to running.
	SessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total sessions started",
		},
	)

	// SessionsCompletedTotal counts sessions ended by the engine.
	SessionsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total sessions completed naturally",
		},
	)

	// SessionsAbortedTotal counts sessions aborted while running.
	SessionsAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_aborted_total",
			Help:      "Total sessions aborted while running",
		},
	)

	// StartRejectedTotal counts start requests that did not start a session.
	StartRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_rejected_total",
			Help:      "Start requests that were no-ops, by reason",
		},
		[]string{LabelReason},
	)

	// SamplesAppliedTotal counts samples written to the display.
	SamplesAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_applied_total",
			Help:      "Total engine samples applied to the display",
		},
	)

	// EventsIgnoredTotal counts engine events dropped by the controller.
	EventsIgnoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Engine events ignored, by cause",
		},
		[]string{LabelCause},
	)

	// MalformedFieldsTotal counts sample fields replaced by their default.
	MalformedFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_fields_total",
			Help:      "Sample fields degraded to their default value",
		},
		[]string{LabelField},
	)

	// SessionRunning is 1 while a session is running.
	SessionRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_running",
			Help:      "Whether a session is currently running",
		},
	)

	// DownloadMbps tracks the last applied download rate.
	DownloadMbps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_mbps",
			Help:      "Last reported instantaneous download rate",
		},
	)

	// UploadMbps tracks the last applied upload rate.
	UploadMbps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_mbps",
			Help:      "Last reported instantaneous upload rate",
		},
	)

	// DisplayObserversDropped counts snapshots skipped for slow observers.
	DisplayObserversDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_snapshots_dropped_total",
			Help:      "Display snapshots replaced before a slow observer read them",
		},
	)
)
