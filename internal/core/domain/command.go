package domain

import "strings"

// CommandKind classifies a parsed text command.
type CommandKind uint8

const (
	// KindNone means the text is not a command and should be treated as a
	// relay payload.
	KindNone CommandKind = iota

	// KindHelp requests the command overview.
	KindHelp

	// KindPrice requests the current Bitcoin price.
	KindPrice

	// KindSetSecret announces a pairing secret.
	KindSetSecret

	// KindDeleteSecret revokes the sender's active pairing.
	KindDeleteSecret

	// KindChatID requests the Telegram chat identifier (chat side only).
	KindChatID

	// KindUnknown is a "!"-prefixed word that matches no known command.
	KindUnknown
)

// String returns the command kind name for logging.
func (k CommandKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindHelp:
		return "help"
	case KindPrice:
		return "price"
	case KindSetSecret:
		return "set_secret"
	case KindDeleteSecret:
		return "delete_secret"
	case KindChatID:
		return "chat_id"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Command is the result of parsing one inbound text.
type Command struct {
	Kind CommandKind

	// Secret carries the announced word for KindSetSecret, verbatim.
	Secret string

	// Raw carries the offending first token for KindUnknown.
	Raw string
}

// deleteKeyword revokes a pairing when given as the secret argument.
// The compare is case-sensitive; "DEL" is just a (too short) secret.
const deleteKeyword = "del"

// ParseCommand classifies one inbound text in a single pass. Recognition is
// first-match-wins: exact commands, then the secret form, then the unknown
// "!" diagnostic, and everything else is relay payload.
//
// Command verbs are case-insensitive; the secret argument keeps its case
// because pairing completion is an exact match.
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed[0] != '!' {
		return Command{Kind: KindNone}
	}

	lower := strings.ToLower(trimmed)
	switch lower {
	case "!help":
		return Command{Kind: KindHelp}
	case "!btc":
		return Command{Kind: KindPrice}
	case "!id":
		return Command{Kind: KindChatID}
	}

	if strings.HasPrefix(lower, "!secret ") {
		secret := strings.TrimSpace(trimmed[len("!secret "):])
		if secret == deleteKeyword {
			return Command{Kind: KindDeleteSecret}
		}
		return Command{Kind: KindSetSecret, Secret: secret}
	}

	// A "!" word outside the known set gets a diagnostic instead of being
	// relayed into a chat. Known verbs with unexpected arguments fall
	// through to the relay path.
	verb := lower
	if i := strings.IndexByte(lower, ' '); i >= 0 {
		verb = lower[:i]
	}
	switch verb {
	case "!help", "!btc", "!id", "!secret":
		return Command{Kind: KindNone}
	}
	return Command{Kind: KindUnknown, Raw: verb}
}
