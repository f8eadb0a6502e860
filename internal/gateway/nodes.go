package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// recentNodeLimit bounds the activity ring.
const recentNodeLimit = 10

// defaultStatusInterval paces the periodic node status log line.
const defaultStatusInterval = 3 * time.Minute

// NodeEntry is one observed node on the bridged channel.
type NodeEntry struct {
	Num      uint32
	Name     string
	LastSeen time.Time
}

// Tracker keeps the last few active mesh nodes, most recent first.
type Tracker struct {
	mu      sync.Mutex
	entries []NodeEntry
	now     func() time.Time
}

// NewTracker creates an empty activity tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Touch records activity for a node. A node already in the ring moves
// to the front; otherwise the oldest entry falls off.
func (t *Tracker) Touch(num uint32, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := NodeEntry{Num: num, Name: name, LastSeen: t.now()}

	for i, e := range t.entries {
		if e.Num == num {
			copy(t.entries[1:i+1], t.entries[:i])
			t.entries[0] = entry
			return
		}
	}

	t.entries = append(t.entries, NodeEntry{})
	copy(t.entries[1:], t.entries)
	t.entries[0] = entry
	if len(t.entries) > recentNodeLimit {
		t.entries = t.entries[:recentNodeLimit]
	}
}

// Recent returns the tracked nodes, most recent first.
func (t *Tracker) Recent() []NodeEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// RunStatusLoop logs the active-node ring periodically until ctx ends.
func (t *Tracker) RunStatusLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recent := t.Recent()
			if len(recent) == 0 {
				continue
			}
			names := make([]string, len(recent))
			for i, e := range recent {
				names[i] = e.Name
			}
			logger.Info("active mesh nodes",
				"count", len(recent),
				"nodes", strings.Join(names, ", "))
		}
	}
}
