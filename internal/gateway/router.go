package gateway

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync/atomic"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
	"github.com/Pilotkosinus/mesh2gram/internal/core/service"
	"github.com/Pilotkosinus/mesh2gram/internal/mesh"
	"github.com/Pilotkosinus/mesh2gram/internal/telegram"
	"github.com/Pilotkosinus/mesh2gram/internal/telemetry/metric"
)

// MeshSender is the mesh-side surface the router needs. The connection
// supervisor satisfies it; sends fail cleanly while disconnected.
type MeshSender interface {
	Send(ctx context.Context, text string, dest uint32) error
	SendChannel(ctx context.Context, text string, channel uint32) error
	Node(num uint32) (mesh.NodeInfo, bool)
}

// ChatSender is the Telegram-side surface the router needs.
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string, html bool) error
}

// RouterConfig carries the routing decisions that are fixed per run.
type RouterConfig struct {
	// ChannelIndex is the bridged mesh channel. Broadcasts on any other
	// index are dropped. SetChannelIndex overrides it at runtime when a
	// configured channel name resolves against the device.
	ChannelIndex uint32

	// PrimaryChatID is the group bridged to the mesh channel. Zero means
	// setup mode: only !id is honored on the chat side.
	PrimaryChatID int64

	// BotUsername names the bot in pairing instructions.
	BotUsername string
}

// Router applies the relay and pairing rules to inbound traffic from
// both sides. It is driven by a single goroutine; the services it calls
// carry their own locking.
type Router struct {
	cfg      RouterConfig
	channel  atomic.Uint32
	mesh     MeshSender
	chat     ChatSender
	pairing  *service.PairingService
	price    *service.PriceService
	tracker  *Tracker
	notifier Notifier
	metrics  *metric.Registry
	logger   *slog.Logger

	// OnSetupComplete fires when !id arrives in setup mode. The callback
	// persists the chat id and triggers the component reload.
	OnSetupComplete func(chatID int64)
}

// NewRouter wires a router. metrics may be nil.
func NewRouter(cfg RouterConfig, meshSender MeshSender, chat ChatSender,
	pairing *service.PairingService, price *service.PriceService,
	tracker *Tracker, notifier Notifier, metrics *metric.Registry,
	logger *slog.Logger) *Router {

	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = CombineNotifiers()
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	r := &Router{
		cfg:      cfg,
		mesh:     meshSender,
		chat:     chat,
		pairing:  pairing,
		price:    price,
		tracker:  tracker,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
	r.channel.Store(cfg.ChannelIndex)
	return r
}

// SetChannelIndex switches the bridged channel, typically after the
// configured channel name resolved against a fresh session.
func (r *Router) SetChannelIndex(idx uint32) {
	old := r.channel.Swap(idx)
	if old != idx {
		r.logger.Info("bridged channel index changed", "from", old, "to", idx)
	}
}

// channelIndex is the bridged channel for routing decisions.
func (r *Router) channelIndex() uint32 {
	return r.channel.Load()
}

// setupMode reports whether the primary chat is still unconfigured.
func (r *Router) setupMode() bool {
	return r.cfg.PrimaryChatID == 0
}

// nodeName resolves the display name for a mesh node, tolerating
// absent node records.
func (r *Router) nodeName(num uint32) string {
	if r.mesh != nil {
		if info, ok := r.mesh.Node(num); ok {
			return info.DisplayName()
		}
	}
	return mesh.FallbackName(num)
}

// ==========================================================================
// Mesh inbound
// ==========================================================================

// HandleMeshPacket routes one decoded packet from the radio.
func (r *Router) HandleMeshPacket(ctx context.Context, p mesh.Packet) {
	if p.Text == "" {
		return
	}
	if p.Direct() {
		r.handleMeshDirect(ctx, p)
		return
	}
	r.handleMeshBroadcast(ctx, p)
}

// handleMeshBroadcast forwards channel traffic to the primary chat.
func (r *Router) handleMeshBroadcast(ctx context.Context, p mesh.Packet) {
	if p.Channel != r.channelIndex() {
		return
	}

	name := r.nodeName(p.From)
	r.tracker.Touch(p.From, name)
	r.notifier.NodeActivity(p.From, name)

	if r.setupMode() {
		return
	}

	text := fmt.Sprintf("<b>%s</b>: %s", html.EscapeString(name), html.EscapeString(p.Text))
	if err := r.chat.Send(ctx, r.cfg.PrimaryChatID, text, true); err != nil {
		r.logger.Error("forward to primary chat failed", "error", err, "node_id", p.From)
		return
	}
	r.notifier.MessageRelayed(DirectionMeshToChat, name, p.Text)
}

// handleMeshDirect dispatches a direct message from a node: commands
// first, then the paired private relay.
func (r *Router) handleMeshDirect(ctx context.Context, p mesh.Packet) {
	cmd := domain.ParseCommand(p.Text)

	switch cmd.Kind {
	case domain.KindHelp:
		r.replyToNode(ctx, p.From, helpText)

	case domain.KindPrice:
		// The price fetch can block for seconds; keep the router loop
		// responsive and answer from a goroutine.
		go func() {
			r.replyToNode(ctx, p.From, r.price.BitcoinPrice(ctx))
		}()

	case domain.KindSetSecret:
		r.handleSetSecret(ctx, p.From, cmd.Secret)

	case domain.KindDeleteSecret:
		r.handleDeleteSecret(ctx, p.From)

	case domain.KindChatID, domain.KindUnknown:
		// !id means nothing on the radio side; answer both with the
		// command list so a typo is recoverable in the field.
		raw := cmd.Raw
		if raw == "" {
			raw = "!id"
		}
		r.replyToNode(ctx, p.From, unknownCommandReply(raw))

	default:
		r.relayPrivateToChat(ctx, p)
	}
}

func (r *Router) handleSetSecret(ctx context.Context, nodeID uint32, secret string) {
	err := r.pairing.RegisterSecret(ctx, &service.RegisterSecretRequest{
		Secret:   secret,
		NodeID:   nodeID,
		NodeName: r.nodeName(nodeID),
	})
	switch {
	case err == nil:
		if r.metrics != nil {
			r.metrics.SecretsRegistered.Inc()
		}
		r.replyToNode(ctx, nodeID, secretSetReply(r.cfg.BotUsername))
	case errors.Is(err, domain.ErrSecretTooShort), errors.Is(err, domain.ErrMissingArgument):
		r.replyToNode(ctx, nodeID, secretTooShortReply)
	case errors.Is(err, domain.ErrSecretInUse):
		r.replyToNode(ctx, nodeID, secretInUseReply)
	default:
		r.logger.Error("secret registration failed", "error", err, "node_id", nodeID)
		r.replyToNode(ctx, nodeID, secretErrorReply)
	}
}

func (r *Router) handleDeleteSecret(ctx context.Context, nodeID uint32) {
	removed, err := r.pairing.Revoke(ctx, nodeID)
	if err != nil {
		r.logger.Error("revoke failed", "error", err, "node_id", nodeID)
		r.replyToNode(ctx, nodeID, secretErrorReply)
		return
	}
	if !removed {
		r.replyToNode(ctx, nodeID, noActiveSessionReply)
		return
	}
	if r.metrics != nil {
		r.metrics.PairingsRevoked.Inc()
	}
	r.replyToNode(ctx, nodeID, sessionDeletedReply)
}

// relayPrivateToChat forwards plain direct text to the paired chat, or
// explains pairing if there is none.
func (r *Router) relayPrivateToChat(ctx context.Context, p mesh.Packet) {
	sess, ok := r.pairing.SessionByNode(p.From)
	if !ok {
		r.replyToNode(ctx, p.From, pairingInstructionsReply(r.cfg.BotUsername))
		return
	}

	name := r.nodeName(p.From)
	text := fmt.Sprintf("<b>%s</b>: %s", html.EscapeString(name), html.EscapeString(p.Text))
	if err := r.chat.Send(ctx, sess.ChatID, text, true); err != nil {
		r.logger.Error("private relay to chat failed",
			"error", err, "node_id", p.From, "chat_id", sess.ChatID)
		return
	}
	r.notifier.PrivateMessageRelayed()
}

// replyToNode answers a node best-effort. A failed send is logged and
// dropped; the node will retry on its own.
func (r *Router) replyToNode(ctx context.Context, nodeID uint32, text string) {
	if r.mesh == nil {
		return
	}
	if err := r.mesh.Send(ctx, text, nodeID); err != nil {
		r.logger.Warn("reply to node failed", "error", err, "node_id", nodeID)
	}
}

// ==========================================================================
// Telegram inbound
// ==========================================================================

// HandleChatMessage routes one normalized Telegram message.
func (r *Router) HandleChatMessage(ctx context.Context, m telegram.Message) {
	if m.SenderIsBot || m.Text == "" {
		return
	}

	// !id works in any chat, paired or not, and is the only command the
	// gateway honors before the primary chat is configured.
	if domain.ParseCommand(m.Text).Kind == domain.KindChatID {
		r.handleChatID(ctx, m)
		return
	}

	// Exact-match pairing completion runs before any relay decision.
	if r.tryCompletePairing(ctx, m) {
		return
	}

	if m.Group {
		r.handleGroupMessage(ctx, m)
		return
	}
	r.handleDirectMessage(ctx, m)
}

// handleChatID answers the chat id and, in setup mode, promotes the
// chat to primary. Completion works from any chat, direct ones included.
func (r *Router) handleChatID(ctx context.Context, m telegram.Message) {
	r.replyToChat(ctx, m.ChatID, chatIDReply(m.ChatID))

	if r.setupMode() && r.OnSetupComplete != nil {
		r.replyToChat(ctx, m.ChatID, setupCompleteReply)
		r.OnSetupComplete(m.ChatID)
	}
}

// tryCompletePairing matches the message text against the pending
// secrets. It reports whether the message was consumed.
func (r *Router) tryCompletePairing(ctx context.Context, m telegram.Message) bool {
	chatName := m.ChatTitle
	if chatName == "" {
		chatName = m.SenderName
	}

	sess, err := r.pairing.Complete(ctx, &service.CompleteRequest{
		Text:     m.Text,
		ChatID:   m.ChatID,
		ChatName: chatName,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrSecretUnknown) {
			r.logger.Error("pairing completion failed", "error", err, "chat_id", m.ChatID)
		}
		return false
	}

	if r.metrics != nil {
		r.metrics.PairingsCompleted.Inc()
	}
	r.logger.Info("pairing completed",
		"pairing_id", sess.ID,
		"node_id", sess.NodeID,
		"chat_id", sess.ChatID)

	r.replyToChat(ctx, m.ChatID, pairingCompleteChatReply(sess.NodeName))
	r.replyToNode(ctx, sess.NodeID, pairingCompleteMeshReply(chatName))
	return true
}

// handleDirectMessage relays a direct chat to its paired node.
func (r *Router) handleDirectMessage(ctx context.Context, m telegram.Message) {
	if r.setupMode() {
		r.replyToChat(ctx, m.ChatID, setupModeReply)
		return
	}

	sess, ok := r.pairing.SessionByChat(m.ChatID)
	if !ok {
		r.replyToChat(ctx, m.ChatID, authInstructionsReply)
		return
	}

	// SenderName already carries the @ prefix for usernames.
	r.sendToNode(ctx, sess.NodeID, fmt.Sprintf("%s: %s", m.SenderName, m.Text))
	r.notifier.PrivateMessageRelayed()
}

// handleGroupMessage forwards group traffic: a paired group reaches its
// node directly, the primary chat broadcasts onto the mesh channel.
func (r *Router) handleGroupMessage(ctx context.Context, m telegram.Message) {
	if sess, ok := r.pairing.SessionByChat(m.ChatID); ok {
		r.sendToNode(ctx, sess.NodeID, fmt.Sprintf("[TG] %s: %s", m.SenderName, m.Text))
		r.notifier.PrivateMessageRelayed()
		return
	}

	if r.setupMode() {
		r.replyToChat(ctx, m.ChatID, setupModeReply)
		return
	}

	// Unknown groups are dropped silently; replying would make the bot
	// chatter in every group it is ever added to.
	if m.ChatID != r.cfg.PrimaryChatID {
		r.logger.Warn("group message from non-primary chat dropped",
			"chat_id", m.ChatID, "chat_title", m.ChatTitle)
		return
	}

	if r.mesh == nil {
		return
	}
	text := fmt.Sprintf("%s: %s", m.SenderName, m.Text)
	if err := r.mesh.SendChannel(ctx, text, r.channelIndex()); err != nil {
		r.logger.Warn("broadcast to mesh failed", "error", err, "chat_id", m.ChatID)
		return
	}
	r.notifier.MessageRelayed(DirectionChatToMesh, m.SenderName, m.Text)
}

// sendToNode sends best-effort to a node, logging failures.
func (r *Router) sendToNode(ctx context.Context, nodeID uint32, text string) {
	if r.mesh == nil {
		return
	}
	if err := r.mesh.Send(ctx, text, nodeID); err != nil {
		r.logger.Warn("send to node failed", "error", err, "node_id", nodeID)
	}
}

// replyToChat sends plain text best-effort to a chat, logging failures.
func (r *Router) replyToChat(ctx context.Context, chatID int64, text string) {
	if err := r.chat.Send(ctx, chatID, text, false); err != nil {
		r.logger.Warn("reply to chat failed", "error", err, "chat_id", chatID)
	}
}
