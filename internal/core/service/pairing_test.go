package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
	"github.com/Pilotkosinus/mesh2gram/internal/storage"
)

// mockPairStore is an in-memory PairStore for testing.
type mockPairStore struct {
	mu      sync.Mutex
	records map[string]*domain.PairedSession

	putErr    error
	deleteErr error
	puts      int
	deletes   int
}

func newMockPairStore() *mockPairStore {
	return &mockPairStore{records: make(map[string]*domain.PairedSession)}
}

func (m *mockPairStore) Put(ctx context.Context, s *domain.PairedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	clone := *s
	m.records[s.Secret] = &clone
	return nil
}

func (m *mockPairStore) Delete(ctx context.Context, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletes++
	delete(m.records, secret)
	return nil
}

func (m *mockPairStore) Get(ctx context.Context, secret string) (*domain.PairedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[secret]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *mockPairStore) List(ctx context.Context) ([]*domain.PairedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.PairedSession, 0, len(m.records))
	for _, rec := range m.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}

func (m *mockPairStore) Close() error { return nil }

func newTestService(t *testing.T, store storage.PairStore) *PairingService {
	t.Helper()
	svc, err := NewPairingService(context.Background(), store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewPairingService() error = %v", err)
	}
	return svc
}

func TestRegisterSecret(t *testing.T) {
	ctx := context.Background()

	t.Run("valid secret registers", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		err := svc.RegisterSecret(ctx, &RegisterSecretRequest{
			Secret: "hiking42", NodeID: 42, NodeName: "Trail Node",
		})
		if err != nil {
			t.Fatalf("RegisterSecret() error = %v", err)
		}
		if svc.PendingCount() != 1 {
			t.Errorf("PendingCount() = %d, want 1", svc.PendingCount())
		}
	})

	t.Run("short secret rejected", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		err := svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "abc", NodeID: 42})
		if !errors.Is(err, domain.ErrSecretTooShort) {
			t.Errorf("RegisterSecret(short) error = %v, want ErrSecretTooShort", err)
		}
	})

	t.Run("re-register replaces pending secret", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "first1", NodeID: 42}))
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "second2", NodeID: 42}))

		if svc.PendingCount() != 1 {
			t.Fatalf("PendingCount() = %d, want 1", svc.PendingCount())
		}
		// The replaced secret must no longer complete.
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "first1", ChatID: 7}); !errors.Is(err, domain.ErrSecretUnknown) {
			t.Errorf("Complete(replaced secret) error = %v, want ErrSecretUnknown", err)
		}
	})

	t.Run("secret of another node rejected", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "shared", NodeID: 1}))
		err := svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "shared", NodeID: 2})
		if !errors.Is(err, domain.ErrSecretInUse) {
			t.Errorf("RegisterSecret(taken) error = %v, want ErrSecretInUse", err)
		}
	})

	t.Run("store failure aborts re-registration", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "first1", NodeID: 42}))
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "first1", ChatID: 7}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		store.deleteErr = errors.New("disk full")
		err := svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "second2", NodeID: 42})
		if err == nil {
			t.Fatal("RegisterSecret() succeeded despite store failure")
		}
		// The old session survives for a retry.
		if _, ok := svc.SessionByNode(42); !ok {
			t.Error("session dropped despite failed store delete")
		}
		if svc.PendingCount() != 0 {
			t.Error("new secret registered despite failed store delete")
		}
	})

	t.Run("re-register deletes previous session", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "first1", NodeID: 42}))
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "first1", ChatID: 7}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "second2", NodeID: 42}))
		if _, ok := svc.SessionByNode(42); ok {
			t.Error("old session still active after re-registration")
		}
		if len(store.records) != 0 {
			t.Errorf("store still holds %d records, want 0", len(store.records))
		}
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("exact match pairs", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "hiking42", NodeID: 42, NodeName: "Trail Node"}))

		sess, err := svc.Complete(ctx, &CompleteRequest{Text: "hiking42", ChatID: 7, ChatName: "@alice"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if sess.NodeID != 42 || sess.ChatID != 7 {
			t.Errorf("Complete() = %+v", sess)
		}
		if svc.PendingCount() != 0 {
			t.Error("pending secret not consumed")
		}
		if _, ok := store.records["hiking42"]; !ok {
			t.Error("session not persisted")
		}
	})

	t.Run("match is case-sensitive", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "Hiking42", NodeID: 42}))

		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "hiking42", ChatID: 7}); !errors.Is(err, domain.ErrSecretUnknown) {
			t.Errorf("Complete(wrong case) error = %v, want ErrSecretUnknown", err)
		}
	})

	t.Run("unknown text does not pair", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "whatever", ChatID: 7}); !errors.Is(err, domain.ErrSecretUnknown) {
			t.Errorf("Complete(unknown) error = %v, want ErrSecretUnknown", err)
		}
	})

	t.Run("expired secret behaves as unknown", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		base := time.Now()
		svc.now = func() time.Time { return base }
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "hiking42", NodeID: 42}))

		svc.now = func() time.Time { return base.Add(domain.PendingSecretTTL + time.Minute) }
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "hiking42", ChatID: 7}); !errors.Is(err, domain.ErrSecretUnknown) {
			t.Errorf("Complete(expired) error = %v, want ErrSecretUnknown", err)
		}
		if svc.PendingCount() != 0 {
			t.Error("expired secret not dropped on contact")
		}
	})

	t.Run("chat re-pair replaces previous session", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "node-a1", NodeID: 1}))
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "node-b2", NodeID: 2}))

		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "node-a1", ChatID: 7}); err != nil {
			t.Fatalf("first Complete() error = %v", err)
		}
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "node-b2", ChatID: 7}); err != nil {
			t.Fatalf("second Complete() error = %v", err)
		}

		sess, ok := svc.SessionByChat(7)
		if !ok || sess.NodeID != 2 {
			t.Errorf("SessionByChat(7) = %+v, ok=%v, want node 2", sess, ok)
		}
		if _, ok := svc.SessionByNode(1); ok {
			t.Error("replaced session still resolvable by node")
		}
	})

	t.Run("store failure aborts pairing", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "hiking42", NodeID: 42}))

		store.putErr = errors.New("disk full")
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "hiking42", ChatID: 7}); err == nil {
			t.Fatal("Complete() succeeded despite store failure")
		}
		// The secret survives for a retry.
		if svc.PendingCount() != 1 {
			t.Error("pending secret consumed despite failed persist")
		}
		if _, ok := svc.SessionByChat(7); ok {
			t.Error("session visible despite failed persist")
		}
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke active session", func(t *testing.T) {
		store := newMockPairStore()
		svc := newTestService(t, store)
		must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "hiking42", NodeID: 42}))
		if _, err := svc.Complete(ctx, &CompleteRequest{Text: "hiking42", ChatID: 7}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		found, err := svc.Revoke(ctx, 42)
		if err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if !found {
			t.Error("Revoke() = false, want true")
		}
		if _, ok := svc.SessionByNode(42); ok {
			t.Error("session still active after revoke")
		}
		if len(store.records) != 0 {
			t.Error("store record survived revoke")
		}
	})

	t.Run("revoke without pairing", func(t *testing.T) {
		svc := newTestService(t, newMockPairStore())
		found, err := svc.Revoke(ctx, 42)
		if err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if found {
			t.Error("Revoke() = true for unpaired node")
		}
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMockPairStore())

	base := time.Now()
	svc.now = func() time.Time { return base }
	must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "old-one1", NodeID: 1}))

	svc.now = func() time.Time { return base.Add(30 * time.Minute) }
	must(t, svc.RegisterSecret(ctx, &RegisterSecretRequest{Secret: "newer-2", NodeID: 2}))

	svc.now = func() time.Time { return base.Add(domain.PendingSecretTTL + time.Minute) }
	if removed := svc.SweepExpired(); removed != 1 {
		t.Errorf("SweepExpired() = %d, want 1", removed)
	}
	if svc.PendingCount() != 1 {
		t.Errorf("PendingCount() after sweep = %d, want 1", svc.PendingCount())
	}
}

func TestStartupLoadsPersistedSessions(t *testing.T) {
	store := newMockPairStore()
	store.records["hiking42"] = &domain.PairedSession{
		ID: "mgps-01hgw2n7ehqbj8k3x5v9t2m4ra", Secret: "hiking42",
		NodeID: 42, ChatID: 7, CreatedAt: time.Now().UnixMilli(),
	}

	svc := newTestService(t, store)
	sess, ok := svc.SessionByNode(42)
	if !ok || sess.ChatID != 7 {
		t.Errorf("SessionByNode(42) = %+v, ok=%v after reload", sess, ok)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
