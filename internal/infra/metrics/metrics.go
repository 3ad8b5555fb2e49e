package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Completed turns by outcome (success/aborted/failed).",
		},
		[]string{"outcome"},
	)

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Entitlement gate decisions by result and reason.",
		},
		[]string{"result", "reason"},
	)

	streamChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_chunks_total",
			Help: "Generation chunks applied to pending messages.",
		},
	)

	streamLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_latency_ms",
			Help:    "Generation stream duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome"},
	)

	reconcileMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_reconcile_merges_total",
			Help: "Remote list merges by effect (updated/inserted/reinserted_active).",
		},
		[]string{"effect"},
	)

	sessionsAdopted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_adopted_total",
			Help: "Locally-owned sessions that adopted a remote id.",
		},
	)

	audioEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_events_total",
			Help: "Audio subsystem events (prefetch_ok/prefetch_failed/play/stop/preempted).",
		},
		[]string{"event"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			turnsTotal, gateDecisions, streamChunks, streamLatencyMs,
			reconcileMerges, sessionsAdopted, audioEvents,
		)
		registerBuildInfo()
	})
}

func IncTurn(outcome string)             { turnsTotal.WithLabelValues(outcome).Inc() }
func IncGate(result, reason string)      { gateDecisions.WithLabelValues(result, reason).Inc() }
func IncStreamChunk()                    { streamChunks.Inc() }
func ObserveStream(outcome string, ms float64) {
	streamLatencyMs.WithLabelValues(outcome).Observe(ms)
}
func IncMerge(effect string)  { reconcileMerges.WithLabelValues(effect).Inc() }
func IncAdopted()             { sessionsAdopted.Inc() }
func IncAudio(event string)   { audioEvents.WithLabelValues(event).Inc() }
