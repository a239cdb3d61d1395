package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Protocol metrics
	RegisteredParties = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ocpihub_registered_parties",
		Help: "Number of registered remote parties per local party",
	}, []string{"local_party"})

	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpihub_registrations_total",
		Help: "Total credentials handshakes by direction and outcome",
	}, []string{"direction", "outcome"})

	CommandsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpihub_commands_sent_total",
		Help: "Total commands dispatched to peers by type and sync result",
	}, []string{"type", "result"})

	CommandResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocpihub_command_results_total",
		Help: "Total asynchronous command results by final result",
	}, []string{"result"})

	PendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocpihub_pending_commands",
		Help: "Commands awaiting their asynchronous result",
	})

	OrphanResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocpihub_orphan_results_total",
		Help: "Command results with no matching pending correlation",
	})

	// Transport metrics
	PeerRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocpihub_peer_request_latency_seconds",
		Help:    "Latency of outbound requests to peers",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
