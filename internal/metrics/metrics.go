// Package metrics exposes the streaming endpoint's Prometheus gauges and
// counters: one active-connection gauge (the endpoint only ever serves
// one stream at a time), the number of subscribed signals, packet/byte
// throughput, and control-channel error counts.
//
// Grounded on the teacher's ws/internal/single/monitoring/metrics.go:
// package-level prometheus.New*, registered in init(), served through
// promhttp.Handler. Scoped down to this endpoint's single-connection,
// single-table domain rather than the teacher's worker-pool/broadcast
// metric set (§9 Non-goals around multi-client fan-out).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_connection_active",
		Help: "Whether a streaming client is currently connected (0 or 1).",
	})

	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaming_connections_total",
		Help: "Total number of streaming connections accepted.",
	})

	connectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaming_connections_rejected_total",
		Help: "Total number of connection attempts rejected because a stream was already active.",
	})

	signalsSubscribed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_signals_subscribed",
		Help: "Current number of signals with an active subscription.",
	})

	packetsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streaming_packets_sent_total",
		Help: "Total number of packets written to the wire, by type.",
	}, []string{"type"})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaming_bytes_sent_total",
		Help: "Total number of bytes written to the wire.",
	})

	jsonrpcErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streaming_jsonrpc_errors_total",
		Help: "Total number of JSON-RPC requests that returned an error, by code.",
	}, []string{"code"})

	natsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_nats_connected",
		Help: "Whether the sample producer's NATS connection is up (0 or 1).",
	})
)

func init() {
	prometheus.MustRegister(connectionActive)
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(connectionsRejected)
	prometheus.MustRegister(signalsSubscribed)
	prometheus.MustRegister(packetsSent)
	prometheus.MustRegister(bytesSent)
	prometheus.MustRegister(jsonrpcErrors)
	prometheus.MustRegister(natsConnected)
}

// Handler serves the Prometheus exposition format at the caller's chosen
// route (conventionally /metrics).
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnectionActive records whether a stream is currently connected.
func SetConnectionActive(active bool) {
	if active {
		connectionActive.Set(1)
	} else {
		connectionActive.Set(0)
	}
}

// IncrementConnections records an accepted connection.
func IncrementConnections() { connectionsTotal.Inc() }

// IncrementConnectionsRejected records a busy-rejected connection attempt.
func IncrementConnectionsRejected() { connectionsRejected.Inc() }

// SetSignalsSubscribed records the current subscribed-signal count.
func SetSignalsSubscribed(n int) { signalsSubscribed.Set(float64(n)) }

// RecordPacketSent records one packet written to the wire.
func RecordPacketSent(packetType string, bytes int) {
	packetsSent.WithLabelValues(packetType).Inc()
	bytesSent.Add(float64(bytes))
}

// RecordJSONRPCError records a JSON-RPC error response by its code.
func RecordJSONRPCError(code int) {
	jsonrpcErrors.WithLabelValues(httpCodeLabel(code)).Inc()
}

// SetNATSConnected records the sample producer's NATS connection status.
func SetNATSConnected(connected bool) {
	if connected {
		natsConnected.Set(1)
	} else {
		natsConnected.Set(0)
	}
}

func httpCodeLabel(code int) string {
	switch code {
	case -32700:
		return "parse_error"
	case -32601:
		return "method_not_found"
	case -32602:
		return "invalid_params"
	default:
		return "other"
	}
}
