// Package metrics holds the Prometheus collectors for the settlement processor.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "casino"

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// SettlementMetrics wraps collectors tracking settlement health.
// All methods are safe on a nil receiver.
type SettlementMetrics struct {
	depositsCredited *prometheus.CounterVec
	depositsSkipped  *prometheus.CounterVec
	payouts          *prometheus.CounterVec
	payoutLatency    *prometheus.HistogramVec
	plays            *prometheus.CounterVec
	wagered          *prometheus.CounterVec
	discrepancies    *prometheus.CounterVec
	treasuryDelta    prometheus.Gauge
	taskRuns         *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	abuseDenied      *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
	healthy          *prometheus.GaugeVec
}

// Settlement exposes the lazily-initialised metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			depositsCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "credited_lamports_total",
				Help:      "Lamports credited to users from confirmed deposits.",
			}, []string{"source"}),
			depositsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "skipped_total",
				Help:      "Signatures permanently skipped, segmented by reason.",
			}, []string{"reason"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payouts",
				Name:      "jobs_total",
				Help:      "Payout job outcomes segmented by job type and outcome.",
			}, []string{"type", "outcome"}),
			payoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "payouts",
				Name:      "submit_latency_seconds",
				Help:      "Latency from submit to confirmation for payouts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			plays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "games",
				Name:      "plays_total",
				Help:      "Settled game plays segmented by game type and result.",
			}, []string{"game", "result"}),
			wagered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "games",
				Name:      "wagered_lamports_total",
				Help:      "Lamports wagered per game type.",
			}, []string{"game"}),
			discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "discrepancies_total",
				Help:      "Discrepancies flagged by the reconciliation sweep.",
			}, []string{"kind"}),
			treasuryDelta: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "treasury_delta_lamports",
				Help:      "On-chain treasury balance minus the ledger-implied balance at the last sweep.",
			}),
			taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_runs_total",
				Help:      "Periodic task iterations segmented by task and outcome.",
			}, []string{"task", "outcome"}),
			taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Duration of periodic task iterations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"task"}),
			abuseDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "abuse",
				Name:      "denied_total",
				Help:      "Actions denied by the anti-abuse guard.",
			}, []string{"check"}),
			outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "messages_total",
				Help:      "Outbox messages handled segmented by outcome.",
			}, []string{"outcome"}),
			healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "dependency_up",
				Help:      "Whether a dependency answered the last health probe (1) or not (0).",
			}, []string{"dependency"}),
		}
		prometheus.MustRegister(
			settlementRegistry.depositsCredited,
			settlementRegistry.depositsSkipped,
			settlementRegistry.payouts,
			settlementRegistry.payoutLatency,
			settlementRegistry.plays,
			settlementRegistry.wagered,
			settlementRegistry.discrepancies,
			settlementRegistry.treasuryDelta,
			settlementRegistry.taskRuns,
			settlementRegistry.taskDuration,
			settlementRegistry.abuseDenied,
			settlementRegistry.outboxPublished,
			settlementRegistry.healthy,
		)
	})
	return settlementRegistry
}

func label(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unspecified"
	}
	return strings.ToLower(v)
}

// DepositCredited records a credited deposit amount.
func (m *SettlementMetrics) DepositCredited(source string, amount int64) {
	if m == nil {
		return
	}
	m.depositsCredited.WithLabelValues(label(source)).Add(float64(amount))
}

// DepositSkipped counts a permanently skipped signature.
func (m *SettlementMetrics) DepositSkipped(reason string) {
	if m == nil {
		return
	}
	m.depositsSkipped.WithLabelValues(label(reason)).Inc()
}

// PayoutOutcome counts a payout job state change.
func (m *SettlementMetrics) PayoutOutcome(jobType, outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(label(jobType), label(outcome)).Inc()
}

// ObservePayoutLatency records submit-to-confirmation latency.
func (m *SettlementMetrics) ObservePayoutLatency(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutLatency.WithLabelValues(label(jobType)).Observe(d.Seconds())
}

// GamePlayed counts a settled play and its wager.
func (m *SettlementMetrics) GamePlayed(game string, won bool, bet int64) {
	if m == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.plays.WithLabelValues(label(game), result).Inc()
	m.wagered.WithLabelValues(label(game)).Add(float64(bet))
}

// DiscrepancyFlagged counts a persisted discrepancy.
func (m *SettlementMetrics) DiscrepancyFlagged(kind string) {
	if m == nil {
		return
	}
	m.discrepancies.WithLabelValues(label(kind)).Inc()
}

// SetTreasuryDelta records the last observed treasury delta.
func (m *SettlementMetrics) SetTreasuryDelta(delta int64) {
	if m == nil {
		return
	}
	m.treasuryDelta.Set(float64(delta))
}

// TaskRun records one periodic task iteration.
func (m *SettlementMetrics) TaskRun(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.taskRuns.WithLabelValues(label(task), outcome).Inc()
	m.taskDuration.WithLabelValues(label(task)).Observe(d.Seconds())
}

// AbuseDenied counts a guard rejection.
func (m *SettlementMetrics) AbuseDenied(check string) {
	if m == nil {
		return
	}
	m.abuseDenied.WithLabelValues(label(check)).Inc()
}

// OutboxHandled counts an outbox message outcome.
func (m *SettlementMetrics) OutboxHandled(outcome string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(label(outcome)).Inc()
}

// SetDependencyUp toggles the health gauge for a dependency.
func (m *SettlementMetrics) SetDependencyUp(dependency string, up bool) {
	if m == nil {
		return
	}
	if up {
		m.healthy.WithLabelValues(label(dependency)).Set(1)
		return
	}
	m.healthy.WithLabelValues(label(dependency)).Set(0)
}
