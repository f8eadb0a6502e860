package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
	"github.com/Pilotkosinus/mesh2gram/internal/storage"
)

// PairingService owns the pairing state machine: secrets announced on the
// mesh, their expiry, and the confirmed node-to-chat sessions.
//
// Pending secrets are volatile and die with the process. Paired sessions
// are written through to the store on every mutation and reloaded in full
// at startup.
type PairingService struct {
	store  storage.PairStore
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[string]*domain.PendingSecret // keyed by secret
	sessions map[string]*domain.PairedSession // keyed by secret

	now func() time.Time
}

// NewPairingService creates the service and loads persisted sessions.
func NewPairingService(ctx context.Context, store storage.PairStore, logger *slog.Logger) (*PairingService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	records, err := store.List(ctx)
	if err != nil {
		return nil, domain.ErrStorage.WithDetails("loading paired sessions").WithCause(err)
	}

	sessions := make(map[string]*domain.PairedSession, len(records))
	for _, rec := range records {
		sessions[rec.Secret] = rec
	}

	logger.Info("pairing state loaded", "sessions", len(sessions))

	return &PairingService{
		store:    store,
		logger:   logger,
		pending:  make(map[string]*domain.PendingSecret),
		sessions: sessions,
		now:      time.Now,
	}, nil
}

// RegisterSecretRequest contains parameters for announcing a pairing secret.
type RegisterSecretRequest struct {
	Secret   string
	NodeID   uint32
	NodeName string
}

// RegisterSecret announces a new pairing secret for a mesh node.
//
// Announcing a secret implicitly revokes the node's existing pairing, so
// each node holds at most one pending secret or active session at a time.
func (s *PairingService) RegisterSecret(ctx context.Context, req *RegisterSecretRequest) error {
	// 1. Validate input
	if req.Secret == "" {
		return domain.ErrMissingArgument.WithDetails("secret is required")
	}
	if len(req.Secret) < domain.MinSecretLength {
		return domain.ErrSecretTooShort
	}
	if req.NodeID == 0 {
		return domain.ErrMissingArgument.WithDetails("node_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 2. Reject a secret that already anchors another node's pairing.
	// A secret may live in at most one of the pending or paired tables.
	if existing, ok := s.sessions[req.Secret]; ok && existing.NodeID != req.NodeID {
		return domain.ErrSecretInUse
	}
	if existing, ok := s.pending[req.Secret]; ok && existing.NodeID != req.NodeID {
		return domain.ErrSecretInUse
	}

	// 3. Re-pairing replaces the node's previous state entirely.
	if _, err := s.dropNodeLocked(ctx, req.NodeID); err != nil {
		return err
	}

	// 4. Record the pending secret
	s.pending[req.Secret] = &domain.PendingSecret{
		Secret:    req.Secret,
		NodeID:    req.NodeID,
		NodeName:  req.NodeName,
		CreatedAt: s.now().UnixMilli(),
	}

	s.logger.Info("pairing secret registered",
		"node_id", req.NodeID,
		"node_name", req.NodeName,
		"secret", req.Secret)

	return nil
}

// CompleteRequest contains parameters for completing a pairing from chat.
type CompleteRequest struct {
	Text     string
	ChatID   int64
	ChatName string
}

// Complete matches incoming chat text against the pending secrets.
//
// The match is exact and case-sensitive. An expired secret behaves as if
// it never existed and is dropped on contact. On success the pending
// entry is consumed, any previous pairing of the same chat is replaced,
// and the new session is persisted before it becomes visible.
func (s *PairingService) Complete(ctx context.Context, req *CompleteRequest) (*domain.PairedSession, error) {
	// 1. Validate input
	if req.Text == "" {
		return nil, domain.ErrSecretUnknown
	}
	if req.ChatID == 0 {
		return nil, domain.ErrMissingArgument.WithDetails("chat_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 2. Exact match against pending secrets
	pending, ok := s.pending[req.Text]
	if !ok {
		return nil, domain.ErrSecretUnknown
	}
	if pending.Expired(s.now()) {
		delete(s.pending, req.Text)
		s.logger.Info("pairing secret expired on completion attempt",
			"node_id", pending.NodeID,
			"secret", pending.Secret)
		return nil, domain.ErrSecretUnknown
	}

	// 3. One chat pairs with one node: replace a previous pairing of this chat
	for secret, sess := range s.sessions {
		if sess.ChatID == req.ChatID {
			if err := s.store.Delete(ctx, secret); err != nil {
				return nil, err
			}
			delete(s.sessions, secret)
			s.logger.Info("replaced previous pairing of chat",
				"chat_id", req.ChatID,
				"old_node_id", sess.NodeID)
		}
	}

	// 4. Create and persist the session
	session, err := domain.NewPairedSession(pending, req.ChatID, req.ChatName)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, session); err != nil {
		return nil, err
	}

	// 5. Consume the pending secret
	delete(s.pending, req.Text)
	s.sessions[session.Secret] = session

	s.logger.Info("pairing completed",
		"node_id", session.NodeID,
		"node_name", session.NodeName,
		"chat_id", session.ChatID)

	return session, nil
}

// Revoke removes the active pairing of a mesh node.
// Returns false if the node had no active pairing.
func (s *PairingService) Revoke(ctx context.Context, nodeID uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.dropNodeLocked(ctx, nodeID)
	if err != nil {
		return false, err
	}
	if found {
		s.logger.Info("pairing revoked", "node_id", nodeID)
	}
	return found, nil
}

// dropNodeLocked removes any pending secret and persisted session belonging
// to the node. Caller holds s.mu.
func (s *PairingService) dropNodeLocked(ctx context.Context, nodeID uint32) (bool, error) {
	found := false

	for secret, p := range s.pending {
		if p.NodeID == nodeID {
			delete(s.pending, secret)
			found = true
		}
	}

	for secret, sess := range s.sessions {
		if sess.NodeID == nodeID {
			if err := s.store.Delete(ctx, secret); err != nil {
				return found, err
			}
			delete(s.sessions, secret)
			found = true
		}
	}

	return found, nil
}

// SessionByNode returns the active pairing of a mesh node, if any.
func (s *PairingService) SessionByNode(nodeID uint32) (*domain.PairedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.NodeID == nodeID {
			return sess, true
		}
	}
	return nil, false
}

// SessionByChat returns the active pairing of a Telegram chat, if any.
func (s *PairingService) SessionByChat(chatID int64) (*domain.PairedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ChatID == chatID {
			return sess, true
		}
	}
	return nil, false
}

// SessionCount returns the number of active pairings.
func (s *PairingService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// PendingCount returns the number of unexpired pending secrets.
func (s *PairingService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, p := range s.pending {
		if !p.Expired(now) {
			n++
		}
	}
	return n
}

// SweepExpired removes pending secrets past their TTL.
// Returns the number of secrets removed.
func (s *PairingService) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for secret, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, secret)
			removed++
			s.logger.Info("expired pairing secret removed",
				"node_id", p.NodeID,
				"age", now.Sub(p.CreatedAtTime()).Round(time.Second))
		}
	}
	return removed
}

// RunSweeper periodically sweeps expired pending secrets until ctx ends.
func (s *PairingService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired()
		case <-ctx.Done():
			return
		}
	}
}
