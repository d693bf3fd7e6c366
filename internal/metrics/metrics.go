package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Number of open websocket connections.",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Messages appended to the store, by kind.",
	}, []string{"kind"})

	MessagesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_expired_total",
		Help: "Disappearing messages hard-removed by the scheduler.",
	})

	SessionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_session_evictions_total",
		Help: "Sessions force-logged-out by a newer login.",
	})

	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_login_failures_total",
		Help: "Rejected login attempts.",
	})
)
