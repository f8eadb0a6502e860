package gateway

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
	"github.com/Pilotkosinus/mesh2gram/internal/core/service"
	"github.com/Pilotkosinus/mesh2gram/internal/mesh"
	"github.com/Pilotkosinus/mesh2gram/internal/storage"
	"github.com/Pilotkosinus/mesh2gram/internal/telegram"
)

// memStore is an in-memory PairStore for router tests.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*domain.PairedSession
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*domain.PairedSession)}
}

func (s *memStore) Put(_ context.Context, rec *domain.PairedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Secret] = rec
	return nil
}

func (s *memStore) Delete(_ context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, secret)
	return nil
}

func (s *memStore) Get(_ context.Context, secret string) (*domain.PairedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[secret]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) List(_ context.Context) ([]*domain.PairedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.PairedSession, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

type nodeSend struct {
	text string
	dest uint32
}

type channelSend struct {
	text    string
	channel uint32
}

// fakeMesh records sends and serves a static node table.
type fakeMesh struct {
	mu       sync.Mutex
	sent     []nodeSend
	channels []channelSend
	nodes    map[uint32]mesh.NodeInfo
}

func (f *fakeMesh) Send(_ context.Context, text string, dest uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, nodeSend{text: text, dest: dest})
	return nil
}

func (f *fakeMesh) SendChannel(_ context.Context, text string, channel uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelSend{text: text, channel: channel})
	return nil
}

func (f *fakeMesh) Node(num uint32) (mesh.NodeInfo, bool) {
	info, ok := f.nodes[num]
	return info, ok
}

func (f *fakeMesh) lastSent(t *testing.T) nodeSend {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mesh sends recorded")
	}
	return f.sent[len(f.sent)-1]
}

type chatSend struct {
	chatID int64
	text   string
	html   bool
}

// fakeChat records chat sends.
type fakeChat struct {
	mu   sync.Mutex
	sent []chatSend
}

func (f *fakeChat) Send(_ context.Context, chatID int64, text string, html bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatSend{chatID: chatID, text: text, html: html})
	return nil
}

func (f *fakeChat) lastSent(t *testing.T) chatSend {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no chat sends recorded")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

const (
	testPrimaryChat  = int64(-100200300)
	testChannelIndex = uint32(1)
)

type routerFixture struct {
	router  *Router
	mesh    *fakeMesh
	chat    *fakeChat
	pairing *service.PairingService
}

func newRouterFixture(t *testing.T, cfg RouterConfig) *routerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pairing, err := service.NewPairingService(context.Background(), newMemStore(), logger)
	if err != nil {
		t.Fatalf("pairing service: %v", err)
	}

	fm := &fakeMesh{nodes: map[uint32]mesh.NodeInfo{
		1: {Num: 1, ID: "!0001", LongName: "Alpha"},
		2: {Num: 2, ID: "!0002", ShortName: "BRVO"},
	}}
	fc := &fakeChat{}

	r := NewRouter(cfg, fm, fc, pairing, service.NewPriceService(logger),
		NewTracker(), CombineNotifiers(), nil, logger)
	return &routerFixture{router: r, mesh: fm, chat: fc, pairing: pairing}
}

func defaultFixture(t *testing.T) *routerFixture {
	return newRouterFixture(t, RouterConfig{
		ChannelIndex:  testChannelIndex,
		PrimaryChatID: testPrimaryChat,
		BotUsername:   "mesh2gram_bot",
	})
}

// pair establishes a completed pairing for tests that need one.
func (f *routerFixture) pair(t *testing.T, nodeID uint32, secret string, chatID int64) {
	t.Helper()
	ctx := context.Background()
	err := f.pairing.RegisterSecret(ctx, &service.RegisterSecretRequest{
		Secret: secret,
		NodeID: nodeID,
	})
	if err != nil {
		t.Fatalf("register secret: %v", err)
	}
	if _, err := f.pairing.Complete(ctx, &service.CompleteRequest{
		Text:   secret,
		ChatID: chatID,
	}); err != nil {
		t.Fatalf("complete pairing: %v", err)
	}
}

func TestMeshBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("forwarded to primary chat with bold sender", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: testChannelIndex, Text: "hello mesh",
		})

		got := f.chat.lastSent(t)
		if got.chatID != testPrimaryChat {
			t.Errorf("chatID = %d, want %d", got.chatID, testPrimaryChat)
		}
		if got.text != "<b>Alpha</b>: hello mesh" {
			t.Errorf("text = %q", got.text)
		}
		if !got.html {
			t.Error("broadcast relay should use HTML formatting")
		}
	})

	t.Run("markup in payload is escaped", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: testChannelIndex, Text: "<i>sneaky</i>",
		})

		got := f.chat.lastSent(t)
		if strings.Contains(got.text, "<i>") {
			t.Errorf("payload markup not escaped: %q", got.text)
		}
	})

	t.Run("other channel index dropped", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: testChannelIndex + 1, Text: "wrong lane",
		})

		if f.chat.count() != 0 {
			t.Error("packet on another channel was forwarded")
		}
	})

	t.Run("channel index change redirects the filter", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.SetChannelIndex(4)

		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: testChannelIndex, Text: "old lane",
		})
		if f.chat.count() != 0 {
			t.Error("packet on old channel was forwarded after index change")
		}

		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: 4, Text: "new lane",
		})
		if f.chat.count() != 1 {
			t.Error("packet on new channel was not forwarded")
		}
	})

	t.Run("unknown node falls back to numeric name", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 99, To: mesh.Broadcast, Channel: testChannelIndex, Text: "hi",
		})

		got := f.chat.lastSent(t)
		if !strings.Contains(got.text, "Node 99") {
			t.Errorf("text = %q, want fallback node name", got.text)
		}
	})

	t.Run("empty text dropped", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{
			From: 1, To: mesh.Broadcast, Channel: testChannelIndex,
		})

		if f.chat.count() != 0 {
			t.Error("empty packet was forwarded")
		}
	})
}

func TestMeshDirect_Commands(t *testing.T) {
	ctx := context.Background()

	t.Run("help returns command list", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!help"})

		got := f.mesh.lastSent(t)
		if got.dest != 1 {
			t.Errorf("dest = %d, want 1", got.dest)
		}
		if got.text != helpText {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("unknown command gets diagnostic with command list", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!frobnicate now"})

		got := f.mesh.lastSent(t)
		if !strings.Contains(got.text, "!frobnicate") {
			t.Errorf("diagnostic does not name the command: %q", got.text)
		}
		if !strings.Contains(got.text, "!help") {
			t.Errorf("diagnostic does not include the command list: %q", got.text)
		}
	})

	t.Run("id is not a radio command", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!id"})

		got := f.mesh.lastSent(t)
		if !strings.Contains(got.text, "Unknown command") {
			t.Errorf("text = %q, want diagnostic", got.text)
		}
	})
}

func TestMeshDirect_SecretLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("set secret replies with pairing instructions", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret hunter2"})

		got := f.mesh.lastSent(t)
		if !strings.Contains(got.text, "@mesh2gram_bot") {
			t.Errorf("reply does not name the bot: %q", got.text)
		}
		if f.pairing.PendingCount() != 1 {
			t.Errorf("pending count = %d, want 1", f.pairing.PendingCount())
		}
	})

	t.Run("too short secret rejected", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret abc"})

		if got := f.mesh.lastSent(t); got.text != secretTooShortReply {
			t.Errorf("text = %q", got.text)
		}
		if f.pairing.PendingCount() != 0 {
			t.Error("short secret was registered")
		}
	})

	t.Run("secret held by another node rejected", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret hunter2"})
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 2, To: 42, Text: "!secret hunter2"})

		if got := f.mesh.lastSent(t); got.text != secretInUseReply {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("delete without session is idempotent", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret del"})

		if got := f.mesh.lastSent(t); got.text != noActiveSessionReply {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("delete removes an active pairing", func(t *testing.T) {
		f := defaultFixture(t)
		f.pair(t, 1, "hunter2", 555)

		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret del"})

		if got := f.mesh.lastSent(t); got.text != sessionDeletedReply {
			t.Errorf("text = %q", got.text)
		}
		if f.pairing.SessionCount() != 0 {
			t.Error("session survived deletion")
		}
	})
}

func TestMeshDirect_PrivateRelay(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaired node gets pairing instructions", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "hello there"})

		got := f.mesh.lastSent(t)
		if !strings.Contains(got.text, "!secret") {
			t.Errorf("reply = %q, want pairing instructions", got.text)
		}
		if f.chat.count() != 0 {
			t.Error("unpaired message reached a chat")
		}
	})

	t.Run("paired node relays to its chat", func(t *testing.T) {
		f := defaultFixture(t)
		f.pair(t, 1, "hunter2", 555)

		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "ping from the hill"})

		got := f.chat.lastSent(t)
		if got.chatID != 555 {
			t.Errorf("chatID = %d, want 555", got.chatID)
		}
		if got.text != "<b>Alpha</b>: ping from the hill" {
			t.Errorf("text = %q", got.text)
		}
	})
}

func TestChat_PairingCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("exact secret completes and confirms both sides", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret hunter2"})

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "ada", Text: "hunter2",
		})

		chatReply := f.chat.lastSent(t)
		if chatReply.chatID != 555 || !strings.Contains(chatReply.text, "Linked") {
			t.Errorf("chat confirmation = %+v", chatReply)
		}
		meshReply := f.mesh.lastSent(t)
		if meshReply.dest != 1 || !strings.Contains(meshReply.text, "Pairing complete") {
			t.Errorf("mesh confirmation = %+v", meshReply)
		}
		if f.pairing.SessionCount() != 1 {
			t.Errorf("session count = %d, want 1", f.pairing.SessionCount())
		}
	})

	t.Run("case mismatch does not complete", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleMeshPacket(ctx, mesh.Packet{From: 1, To: 42, Text: "!secret hunter2"})

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "ada", Text: "HUNTER2",
		})

		if f.pairing.SessionCount() != 0 {
			t.Error("case-insensitive match completed a pairing")
		}
		// The mismatch falls through to the unpaired direct-chat path.
		if got := f.chat.lastSent(t); got.text != authInstructionsReply {
			t.Errorf("text = %q", got.text)
		}
	})
}

func TestChat_DirectRelay(t *testing.T) {
	ctx := context.Background()

	t.Run("paired chat relays to node with sender tag", func(t *testing.T) {
		f := defaultFixture(t)
		f.pair(t, 1, "hunter2", 555)

		// SenderName arrives normalized, @ prefix included.
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "@ada", Text: "are you up there?",
		})

		got := f.mesh.lastSent(t)
		if got.dest != 1 {
			t.Errorf("dest = %d, want 1", got.dest)
		}
		if got.text != "@ada: are you up there?" {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("unpaired chat gets auth instructions", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 556, SenderName: "bob", Text: "hello?",
		})

		if got := f.chat.lastSent(t); got.text != authInstructionsReply {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("bot senders ignored", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "otherbot", SenderIsBot: true, Text: "spam",
		})

		if f.chat.count() != 0 {
			t.Error("bot message produced a reply")
		}
	})
}

func TestChat_GroupRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("primary chat broadcasts onto the mesh channel", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: testPrimaryChat, Group: true, SenderName: "ada", Text: "anyone copy?",
		})

		f.mesh.mu.Lock()
		defer f.mesh.mu.Unlock()
		if len(f.mesh.channels) != 1 {
			t.Fatalf("channel sends = %d, want 1", len(f.mesh.channels))
		}
		got := f.mesh.channels[0]
		if got.channel != testChannelIndex {
			t.Errorf("channel = %d, want %d", got.channel, testChannelIndex)
		}
		if got.text != "ada: anyone copy?" {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("other group is dropped without a reply", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: -200999, Group: true, SenderName: "eve", Text: "leak this",
		})

		if f.chat.count() != 0 {
			t.Error("non-primary group got a reply")
		}
		f.mesh.mu.Lock()
		defer f.mesh.mu.Unlock()
		if len(f.mesh.channels) != 0 {
			t.Error("non-primary group reached the mesh")
		}
	})

	t.Run("paired group forwards to its node", func(t *testing.T) {
		f := defaultFixture(t)
		f.pair(t, 1, "hunter2", -200777)

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: -200777, Group: true, SenderName: "@ada", Text: "status?",
		})

		got := f.mesh.lastSent(t)
		if got.text != "[TG] @ada: status?" {
			t.Errorf("text = %q", got.text)
		}
		if got.dest != 1 {
			t.Errorf("dest = %d, want 1", got.dest)
		}
	})
}

func TestChat_ChatID(t *testing.T) {
	ctx := context.Background()

	t.Run("replies with the chat id anywhere", func(t *testing.T) {
		f := defaultFixture(t)
		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "ada", Text: "!ID",
		})

		if got := f.chat.lastSent(t); got.text != "Chat ID: 555" {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("setup mode promotes the group and fires the callback", func(t *testing.T) {
		f := newRouterFixture(t, RouterConfig{
			ChannelIndex: testChannelIndex,
			BotUsername:  "mesh2gram_bot",
		})

		var promoted int64
		f.router.OnSetupComplete = func(chatID int64) { promoted = chatID }

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: testPrimaryChat, Group: true, SenderName: "ada", Text: "!id",
		})

		if promoted != testPrimaryChat {
			t.Errorf("promoted chat = %d, want %d", promoted, testPrimaryChat)
		}
		if got := f.chat.lastSent(t); got.text != setupCompleteReply {
			t.Errorf("text = %q", got.text)
		}
	})

	t.Run("setup mode completes from a direct chat too", func(t *testing.T) {
		f := newRouterFixture(t, RouterConfig{
			ChannelIndex: testChannelIndex,
			BotUsername:  "mesh2gram_bot",
		})

		var promoted int64
		f.router.OnSetupComplete = func(chatID int64) { promoted = chatID }

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: 555, SenderName: "@ada", Text: "!id",
		})

		if promoted != 555 {
			t.Errorf("promoted chat = %d, want 555", promoted)
		}
	})

	t.Run("setup mode rejects everything else", func(t *testing.T) {
		f := newRouterFixture(t, RouterConfig{
			ChannelIndex: testChannelIndex,
			BotUsername:  "mesh2gram_bot",
		})

		f.router.HandleChatMessage(ctx, telegram.Message{
			ChatID: testPrimaryChat, Group: true, SenderName: "ada", Text: "hello",
		})

		if got := f.chat.lastSent(t); got.text != setupModeReply {
			t.Errorf("text = %q", got.text)
		}
	})
}
