package mesh

import (
	"fmt"
	"strings"
)

// Broadcast is the Meshtastic broadcast destination address.
const Broadcast uint32 = 0xFFFFFFFF

// DefaultPort is the Meshtastic TCP API port.
const DefaultPort = 4403

// Packet is one decoded text message from the radio stream.
type Packet struct {
	// From is the sending node number.
	From uint32

	// To is the destination node number, Broadcast for channel traffic.
	To uint32

	// Channel is the channel index the packet arrived on.
	Channel uint32

	// Text is the decoded message payload.
	Text string
}

// Direct reports whether the packet was addressed to a single node
// rather than broadcast on a channel.
func (p Packet) Direct() bool {
	return p.To != Broadcast
}

// NodeInfo is the device-reported identity of a mesh node.
type NodeInfo struct {
	// Num is the node number.
	Num uint32

	// ID is the node identifier string, e.g. "!433d1234".
	ID string

	// LongName is the user-configured full name.
	LongName string

	// ShortName is the user-configured short name (up to 4 chars).
	ShortName string
}

// DisplayName resolves the best human-readable name for the node:
// long name, then short name, then the node ID string.
func (n NodeInfo) DisplayName() string {
	if s := strings.TrimSpace(n.LongName); s != "" {
		return s
	}
	if s := strings.TrimSpace(n.ShortName); s != "" {
		return s
	}
	if s := strings.TrimSpace(n.ID); s != "" {
		return s
	}
	return FallbackName(n.Num)
}

// FallbackName names a node that never reported node info.
func FallbackName(num uint32) string {
	return fmt.Sprintf("Node %d", num)
}

// ChannelInfo is one entry of the device channel table, reported during
// the initial config dump.
type ChannelInfo struct {
	// Index is the channel slot on the device.
	Index uint32

	// Name is the configured channel name. The primary channel usually
	// reports an empty name.
	Name string
}
