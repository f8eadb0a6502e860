package gateway

import (
	"log/slog"

	"github.com/Pilotkosinus/mesh2gram/internal/telemetry/metric"
)

// Relay directions reported through the Notifier.
const (
	DirectionMeshToChat = "mesh_to_chat"
	DirectionChatToMesh = "chat_to_mesh"
)

// Notifier receives gateway lifecycle and relay events. Implementations
// must be cheap and non-blocking; they run on the router goroutine.
type Notifier interface {
	// ConnectionChanged fires on every mesh connect and disconnect.
	ConnectionChanged(connected bool, host string)

	// MessageRelayed fires for every broadcast relay in either direction.
	MessageRelayed(direction, sender, text string)

	// NodeActivity fires when a mesh node shows up on the bridged channel.
	NodeActivity(nodeID uint32, name string)

	// PrivateMessageRelayed fires for every paired direct relay.
	PrivateMessageRelayed()
}

// logNotifier writes events to the structured log.
type logNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) ConnectionChanged(connected bool, host string) {
	if connected {
		n.logger.Info("mesh device connected", "host", host)
		return
	}
	n.logger.Warn("mesh device disconnected", "host", host)
}

func (n *logNotifier) MessageRelayed(direction, sender, text string) {
	n.logger.Info("message relayed",
		"direction", direction,
		"sender", sender,
		"chars", len(text))
}

func (n *logNotifier) NodeActivity(nodeID uint32, name string) {
	n.logger.Debug("node activity", "node_id", nodeID, "node_name", name)
}

func (n *logNotifier) PrivateMessageRelayed() {
	n.logger.Debug("private message relayed")
}

// metricNotifier feeds the Prometheus counters.
type metricNotifier struct {
	reg *metric.Registry
}

// NewMetricNotifier returns a Notifier that updates relay counters.
func NewMetricNotifier(reg *metric.Registry) Notifier {
	return &metricNotifier{reg: reg}
}

func (n *metricNotifier) ConnectionChanged(connected bool, host string) {
	if connected {
		n.reg.Reconnects.Inc()
	}
}

func (n *metricNotifier) MessageRelayed(direction, sender, text string) {
	switch direction {
	case DirectionMeshToChat:
		n.reg.MeshToChat.Inc()
	case DirectionChatToMesh:
		n.reg.ChatToMesh.Inc()
	}
}

func (n *metricNotifier) NodeActivity(nodeID uint32, name string) {}

func (n *metricNotifier) PrivateMessageRelayed() {
	n.reg.PrivateMessages.Inc()
}

// multiNotifier fans events out to several notifiers.
type multiNotifier []Notifier

// CombineNotifiers returns a Notifier that forwards to every given one.
// Nil entries are skipped.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	var out multiNotifier
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multiNotifier) ConnectionChanged(connected bool, host string) {
	for _, n := range m {
		n.ConnectionChanged(connected, host)
	}
}

func (m multiNotifier) MessageRelayed(direction, sender, text string) {
	for _, n := range m {
		n.MessageRelayed(direction, sender, text)
	}
}

func (m multiNotifier) NodeActivity(nodeID uint32, name string) {
	for _, n := range m {
		n.NodeActivity(nodeID, name)
	}
}

func (m multiNotifier) PrivateMessageRelayed() {
	for _, n := range m {
		n.PrivateMessageRelayed()
	}
}
