package gateway

import "fmt"

// Reply catalog. Mesh replies stay short because the radio payload is
// capped; chat replies may be longer.

const helpText = "Commands:\n" +
	"!help - show this list\n" +
	"!btc - current Bitcoin price\n" +
	"!secret <word> - link this node to a Telegram chat\n" +
	"!secret del - remove the link"

const secretTooShortReply = "Secret too short. Use at least 4 characters."

const secretInUseReply = "That secret is already in use. Pick another word."

const secretErrorReply = "Could not save the secret. Try again."

const noActiveSessionReply = "No active link to remove."

const sessionDeletedReply = "Link removed. This node is no longer paired."

const setupModeReply = "Setup mode: no primary chat is configured yet. " +
	"Send !id in the group that should be bridged to the mesh."

const setupCompleteReply = "Primary chat configured. The gateway is now live."

const authInstructionsReply = "This chat is not linked to a mesh node. " +
	"From your node, send !secret <word> as a direct message to the gateway, " +
	"then send that word here to finish linking."

func secretSetReply(botUsername string) string {
	if botUsername == "" {
		return "Secret saved. Send it to the bot on Telegram within 1 hour to finish linking."
	}
	return fmt.Sprintf("Secret saved. Send it to @%s on Telegram within 1 hour to finish linking.", botUsername)
}

func pairingInstructionsReply(botUsername string) string {
	if botUsername == "" {
		return "This node is not linked to a chat. Send !secret <word>, then send that word to the bot on Telegram."
	}
	return fmt.Sprintf("This node is not linked to a chat. Send !secret <word>, then send that word to @%s on Telegram.", botUsername)
}

func unknownCommandReply(raw string) string {
	return fmt.Sprintf("Unknown command %s.\n%s", raw, helpText)
}

func pairingCompleteChatReply(nodeName string) string {
	return fmt.Sprintf("Linked to %s. Messages in this chat now reach the node directly.", nodeName)
}

func pairingCompleteMeshReply(chatName string) string {
	if chatName == "" {
		return "Pairing complete. This node is now linked to a Telegram chat."
	}
	return fmt.Sprintf("Pairing complete. This node is now linked to %s.", chatName)
}

func chatIDReply(chatID int64) string {
	return fmt.Sprintf("Chat ID: %d", chatID)
}
