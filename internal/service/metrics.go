package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Name:      "grants_total",
	Help:      "Committed reward events by type.",
}, []string{"type"})

var coinsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Name:      "coins_granted_total",
	Help:      "Coins credited by committed reward events, by type.",
}, []string{"type"})

var achievementsUnlocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewards",
	Name:      "achievements_unlocked_total",
	Help:      "Achievements unlocked across all users.",
})

var rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Name:      "rejections_total",
	Help:      "Engine operations refused with an expected error.",
}, []string{"operation", "reason"})

var storeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "store",
	Name:      "retries_total",
	Help:      "Ledger transactions restarted after a conflict.",
}, []string{"operation"})
