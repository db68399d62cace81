package services

import "github.com/prometheus/client_golang/prometheus"

// LoyaltyMetrics counts ledger activity. A nil *LoyaltyMetrics is a no-op.
type LoyaltyMetrics struct {
	points    *prometheus.CounterVec
	entries   *prometheus.CounterVec
	referrals *prometheus.CounterVec
	conflicts *prometheus.CounterVec
}

// NewLoyaltyMetrics registers the loyalty collectors on reg.
func NewLoyaltyMetrics(reg prometheus.Registerer) *LoyaltyMetrics {
	m := &LoyaltyMetrics{
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "points_total",
			Help:      "Points moved through the ledger by transaction type.",
		}, []string{"type"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended by transaction type.",
		}, []string{"type"}),
		referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "referral_transitions_total",
			Help:      "Referral state transitions by resulting status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Name:      "persistence_conflicts_total",
			Help:      "Concurrent update conflicts that triggered a retry.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.points, m.entries, m.referrals, m.conflicts)
	return m
}

func (m *LoyaltyMetrics) entry(txnType string, points int64) {
	if m == nil {
		return
	}
	if points < 0 {
		points = -points
	}
	m.entries.WithLabelValues(txnType).Inc()
	m.points.WithLabelValues(txnType).Add(float64(points))
}

func (m *LoyaltyMetrics) referral(status string) {
	if m == nil {
		return
	}
	m.referrals.WithLabelValues(status).Inc()
}

func (m *LoyaltyMetrics) conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}
