package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Pairing constraints.
const (
	// MinSecretLength is the minimum length of a user-chosen pairing secret.
	MinSecretLength = 4

	// PendingSecretTTL is how long an announced secret stays completable.
	PendingSecretTTL = time.Hour

	// SessionIDPrefix is the prefix for paired session record IDs.
	SessionIDPrefix = "mgps-"
)

// PendingSecret is a pairing secret announced by a mesh node, waiting for
// the same word to arrive in a Telegram chat.
type PendingSecret struct {
	// Secret is the user-chosen word, stored verbatim. Completion is an
	// exact match against incoming chat text, so the secret is never hashed.
	Secret string `json:"secret"`

	// NodeID is the mesh node number that announced the secret.
	NodeID uint32 `json:"node_id"`

	// NodeName is the display name of the node at announcement time.
	NodeName string `json:"node_name"`

	// CreatedAt is the announcement timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`
}

// Expired returns true if the secret is older than PendingSecretTTL at now.
func (p *PendingSecret) Expired(now time.Time) bool {
	return now.Sub(time.UnixMilli(p.CreatedAt)) > PendingSecretTTL
}

// CreatedAtTime returns CreatedAt as time.Time.
func (p *PendingSecret) CreatedAtTime() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

// PairedSession is a confirmed private relay channel between one mesh node
// and one Telegram chat.
type PairedSession struct {
	// ID is the unique identifier for the pairing.
	// Format: mgps-{ulid_lowercase}, 31 characters total.
	ID string `json:"id"`

	// Secret is the word that established the pairing. It doubles as the
	// storage key, so it is unique across active pairings.
	Secret string `json:"secret"`

	// NodeID is the mesh node number.
	NodeID uint32 `json:"node_id"`

	// NodeName is the node display name captured at pairing time.
	NodeName string `json:"node_name"`

	// ChatID is the Telegram chat the node is paired with.
	ChatID int64 `json:"chat_id"`

	// ChatName is the Telegram-side display name captured at pairing time.
	ChatName string `json:"chat_name"`

	// CreatedAt is the pairing timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`
}

// NewPairedSession creates a PairedSession from a completed pending secret.
func NewPairedSession(pending *PendingSecret, chatID int64, chatName string) (*PairedSession, error) {
	id, err := GeneratePairingID()
	if err != nil {
		return nil, err
	}
	return &PairedSession{
		ID:        id,
		Secret:    pending.Secret,
		NodeID:    pending.NodeID,
		NodeName:  pending.NodeName,
		ChatID:    chatID,
		ChatName:  chatName,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// GeneratePairingID generates a new pairing record ID using ULID.
// Format: mgps-{ulid_lowercase}, 31 characters total.
func GeneratePairingID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// Validate validates the pairing record fields.
func (s *PairedSession) Validate() error {
	var violations []string

	if s.Secret == "" {
		violations = append(violations, "secret is required")
	}
	if len(s.Secret) < MinSecretLength {
		violations = append(violations, "secret below minimum length")
	}
	if s.NodeID == 0 {
		violations = append(violations, "node_id is required")
	}
	if s.ChatID == 0 {
		violations = append(violations, "chat_id is required")
	}

	if len(violations) > 0 {
		return ErrInvalidArgument.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// CreatedAtTime returns CreatedAt as time.Time.
func (s *PairedSession) CreatedAtTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// IsValidPairingID checks if a string is a valid pairing ID format.
func IsValidPairingID(id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, SessionIDPrefix) {
		return false
	}
	// mgps- (5) + ULID (26) = 31 characters
	if len(id) != 31 {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(SessionIDPrefix):]))
	return err == nil
}
