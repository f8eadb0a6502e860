package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mesh2gram"

// Registry holds all gateway metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Relay counters
	MeshToChat      prometheus.Counter
	ChatToMesh      prometheus.Counter
	PrivateMessages prometheus.Counter
	DroppedPackets  prometheus.Counter

	// Pairing counters
	SecretsRegistered prometheus.Counter
	PairingsCompleted prometheus.Counter
	PairingsRevoked   prometheus.Counter

	// Connection counters
	Reconnects  prometheus.Counter
	Escalations prometheus.Counter
}

// NewRegistry creates the gateway metrics and registers them together
// with the standard Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MeshToChat: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "mesh_to_chat_total",
			Help:      "Broadcast mesh messages forwarded to the primary chat.",
		}),
		ChatToMesh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "chat_to_mesh_total",
			Help:      "Chat messages forwarded onto the mesh channel.",
		}),
		PrivateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "private_messages_total",
			Help:      "Direct messages relayed through paired sessions.",
		}),
		DroppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_packets_total",
			Help:      "Inbound mesh packets dropped because the relay queue was full.",
		}),
		SecretsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "secrets_registered_total",
			Help:      "Pairing secrets announced from the mesh.",
		}),
		PairingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "completed_total",
			Help:      "Pairings completed from chat.",
		}),
		PairingsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "revoked_total",
			Help:      "Pairings revoked from the mesh.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "reconnects_total",
			Help:      "Sessions re-established after a connection loss.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "escalations_total",
			Help:      "Recovery escalations after repeated connect timeouts.",
		}),
	}

	reg.MustRegister(
		r.MeshToChat,
		r.ChatToMesh,
		r.PrivateMessages,
		r.DroppedPackets,
		r.SecretsRegistered,
		r.PairingsCompleted,
		r.PairingsRevoked,
		r.Reconnects,
		r.Escalations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Registerer exposes the underlying registry so subsystems can attach
// their own collectors, such as the pair store size gauges.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.reg
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
