// Package telemetry exposes the subsystem's Prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tribechat_websocket_connections",
		Help: "Live websocket connections currently registered with the hub.",
	})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tribechat_relay_events_total",
		Help: "Events published to the broadcast relay, by envelope type.",
	}, []string{"type"})

	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tribechat_messages_persisted_total",
		Help: "Messages accepted and persisted by the REST gateway.",
	})

	SlowClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tribechat_slow_clients_dropped_total",
		Help: "Connections dropped because their send buffer was full at fanout time.",
	})
)
