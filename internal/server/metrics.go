// Package server exposes Prometheus instrumentation for the hub and the
// upgrade endpoint.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flockcast_connected_clients",
		Help: "Number of WebSocket clients currently registered with the hub",
	})

	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flockcast_broadcasts_total",
		Help: "Total number of broadcast operations performed by the hub",
	})

	broadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flockcast_broadcast_failures_total",
		Help: "Total number of per-connection delivery failures during broadcasts",
	})

	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flockcast_messages_received_total",
		Help: "Total number of inbound client messages accepted for rebroadcast",
	})
)
