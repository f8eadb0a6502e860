// Package telegram wraps the Telegram Bot API for the gateway.
//
// It normalizes bot updates into a small Message type so the routing
// layer never touches the raw API surface.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// updateTimeout is the long-poll timeout in seconds.
const updateTimeout = 30

// Message is one normalized inbound chat message.
type Message struct {
	// ChatID identifies the chat the message arrived in.
	ChatID int64

	// ChatTitle is the group title, empty for direct chats.
	ChatTitle string

	// SenderName is the best display name of the sender.
	SenderName string

	// SenderIsBot marks messages from other bots.
	SenderIsBot bool

	// Group is true for group and supergroup chats.
	Group bool

	// Text is the message text.
	Text string
}

// Bot is a thin wrapper around the Telegram Bot API client.
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New authenticates against the Bot API.
func New(token string, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate: %w", err)
	}

	logger.Info("telegram bot authenticated", "username", api.Self.UserName)
	return &Bot{api: api, logger: logger}, nil
}

// Username returns the bot's bare username, empty if Telegram did not
// report one. Callers add the @ prefix where they render it.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Send delivers text to a chat. HTML formatting is opt-in because relayed
// mesh text must never be interpreted as markup accidentally.
func (b *Bot) Send(ctx context.Context, chatID int64, text string, html bool) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// Updates starts the long-poll loop and streams normalized messages until
// ctx ends. Non-text updates are dropped.
func (b *Bot) Updates(ctx context.Context) <-chan Message {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = updateTimeout

	updates := b.api.GetUpdatesChan(cfg)
	out := make(chan Message, 16)

	go func() {
		defer close(out)
		defer b.api.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := normalize(update)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// normalize converts one raw update into a Message.
func normalize(update tgbotapi.Update) (Message, bool) {
	m := update.Message
	if m == nil || m.Text == "" || m.Chat == nil {
		return Message{}, false
	}

	out := Message{
		ChatID: m.Chat.ID,
		Group:  m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
		Text:   m.Text,
	}
	if out.Group {
		out.ChatTitle = m.Chat.Title
	}
	if m.From != nil {
		out.SenderName = senderName(m.From)
		out.SenderIsBot = m.From.IsBot
	}
	return out, true
}

// senderName resolves the best display name for a Telegram user:
// @username, then first and last name, then a generic noun.
func senderName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return "Telegram User"
}
