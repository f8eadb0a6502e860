package mesh

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Stream framing constants. Every protobuf payload on the TCP stream is
// preceded by a two-byte magic and a big-endian length.
const (
	frameMagic1 = 0x94
	frameMagic2 = 0xC3

	// maxFrameLen bounds one framed payload. The firmware never emits
	// frames larger than this; anything bigger means we lost sync.
	maxFrameLen = 512

	// maxTextLen is the largest text payload the radio will accept.
	maxTextLen = 200
)

// textMessagePort is the Meshtastic port number for plain text messages.
const textMessagePort = 1

// Field numbers of the radio stream protobufs. Only the fields the
// gateway consumes are mapped; everything else is skipped generically.
const (
	// ToRadio
	toRadioPacket       = 1
	toRadioWantConfigID = 3
	toRadioHeartbeat    = 7

	// FromRadio
	fromRadioPacket         = 2
	fromRadioMyInfo         = 3
	fromRadioNodeInfo       = 4
	fromRadioConfigComplete = 7
	fromRadioChannel        = 10

	// MeshPacket
	meshPacketFrom     = 1
	meshPacketTo       = 2
	meshPacketChannel  = 3
	meshPacketDecoded  = 4
	meshPacketID       = 6
	meshPacketHopLimit = 9

	// Data
	dataPortnum = 1
	dataPayload = 2

	// NodeInfo
	nodeInfoNum  = 1
	nodeInfoUser = 2

	// User
	userID        = 1
	userLongName  = 2
	userShortName = 3

	// MyNodeInfo
	myInfoNodeNum = 1

	// Channel
	channelIndex    = 1
	channelSettings = 2

	// ChannelSettings
	channelSettingsName = 3
)

// defaultHopLimit is the hop count for outbound packets.
const defaultHopLimit = 3

// Event is one decoded message from the radio stream. Exactly one of the
// pointer fields is set.
type Event struct {
	// Packet is a decoded text message, nil otherwise.
	Packet *Packet

	// Node is a node info update, nil otherwise.
	Node *NodeInfo

	// Channel is a channel table entry from the config dump, nil
	// otherwise.
	Channel *ChannelInfo

	// MyNodeNum is the device's own node number, set with MyInfo.
	MyNodeNum uint32
	MyInfo    bool

	// ConfigComplete marks the end of the initial config dump.
	ConfigComplete bool
	ConfigID       uint32
}

// writeFrame frames a payload and writes it to w.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("mesh: frame too large: %d bytes", len(payload))
	}
	header := []byte{frameMagic1, frameMagic2, 0, 0}
	binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one framed payload from r, resynchronizing on the magic
// bytes if the stream carries debug output between frames.
func readFrame(r io.Reader) ([]byte, error) {
	one := make([]byte, 1)
	for {
		// Hunt for the first magic byte.
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, err
		}
		if one[0] != frameMagic1 {
			continue
		}
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, err
		}
		if one[0] != frameMagic2 {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n > maxFrameLen {
			// Lost sync, keep hunting.
			continue
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// marshalTextMessage builds a ToRadio frame carrying one text message.
func marshalTextMessage(text string, dest, channel, packetID uint32) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("mesh: empty text")
	}
	if len(text) > maxTextLen {
		text = truncateUTF8(text, maxTextLen)
	}

	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, textMessagePort)
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte(text))

	var pkt []byte
	pkt = protowire.AppendTag(pkt, meshPacketTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, dest)
	if dest == Broadcast && channel != 0 {
		pkt = protowire.AppendTag(pkt, meshPacketChannel, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(channel))
	}
	pkt = protowire.AppendTag(pkt, meshPacketDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, meshPacketID, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, packetID)
	pkt = protowire.AppendTag(pkt, meshPacketHopLimit, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, defaultHopLimit)

	var out []byte
	out = protowire.AppendTag(out, toRadioPacket, protowire.BytesType)
	out = protowire.AppendBytes(out, pkt)
	return out, nil
}

// marshalWantConfig builds the ToRadio frame that requests the initial
// config dump. The device echoes the ID back when the dump is complete.
func marshalWantConfig(configID uint32) []byte {
	var out []byte
	out = protowire.AppendTag(out, toRadioWantConfigID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(configID))
	return out
}

// marshalHeartbeat builds an empty ToRadio heartbeat frame.
func marshalHeartbeat() []byte {
	var out []byte
	out = protowire.AppendTag(out, toRadioHeartbeat, protowire.BytesType)
	out = protowire.AppendBytes(out, nil)
	return out
}

// decodeFromRadio decodes one FromRadio payload into an Event.
// Returns nil for message types the gateway does not consume.
func decodeFromRadio(payload []byte) (*Event, error) {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		payload = payload[n:]

		switch {
		case num == fromRadioPacket && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pkt, err := decodeMeshPacket(body)
			if err != nil {
				return nil, err
			}
			if pkt == nil {
				return nil, nil
			}
			return &Event{Packet: pkt}, nil

		case num == fromRadioNodeInfo && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node, err := decodeNodeInfo(body)
			if err != nil {
				return nil, err
			}
			return &Event{Node: node}, nil

		case num == fromRadioMyInfo && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			nodeNum, err := decodeMyInfo(body)
			if err != nil {
				return nil, err
			}
			return &Event{MyNodeNum: nodeNum, MyInfo: true}, nil

		case num == fromRadioChannel && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ch, err := decodeChannel(body)
			if err != nil {
				return nil, err
			}
			return &Event{Channel: ch}, nil

		case num == fromRadioConfigComplete && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return &Event{ConfigComplete: true, ConfigID: uint32(v)}, nil

		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			payload = payload[n:]
		}
	}
	return nil, nil
}

// decodeMeshPacket decodes a MeshPacket, returning nil for packets that
// carry no decodable text (encrypted or non-text ports).
func decodeMeshPacket(body []byte) (*Packet, error) {
	pkt := &Packet{}
	haveText := false

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]

		switch {
		case num == meshPacketFrom && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pkt.From = v
			body = body[n:]

		case num == meshPacketTo && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pkt.To = v
			body = body[n:]

		case num == meshPacketChannel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pkt.Channel = uint32(v)
			body = body[n:]

		case num == meshPacketDecoded && typ == protowire.BytesType:
			data, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			text, ok, err := decodeTextData(data)
			if err != nil {
				return nil, err
			}
			if ok {
				pkt.Text = text
				haveText = true
			}
			body = body[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}

	if !haveText {
		return nil, nil
	}
	return pkt, nil
}

// decodeTextData extracts the payload of a Data message if it carries a
// text-message port.
func decodeTextData(data []byte) (string, bool, error) {
	port := uint64(0)
	var payload []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", false, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == dataPortnum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", false, protowire.ParseError(n)
			}
			port = v
			data = data[n:]

		case num == dataPayload && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", false, protowire.ParseError(n)
			}
			payload = b
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", false, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if port != textMessagePort || len(payload) == 0 {
		return "", false, nil
	}
	return string(payload), true, nil
}

// decodeNodeInfo decodes a NodeInfo message.
func decodeNodeInfo(body []byte) (*NodeInfo, error) {
	node := &NodeInfo{}

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]

		switch {
		case num == nodeInfoNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node.Num = uint32(v)
			body = body[n:]

		case num == nodeInfoUser && typ == protowire.BytesType:
			user, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if err := decodeUser(user, node); err != nil {
				return nil, err
			}
			body = body[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}
	return node, nil
}

// decodeUser fills the identity fields of node from a User message.
func decodeUser(body []byte, node *NodeInfo) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return protowire.ParseError(n)
		}
		body = body[n:]

		if typ == protowire.BytesType && (num == userID || num == userLongName || num == userShortName) {
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return protowire.ParseError(n)
			}
			switch num {
			case userID:
				node.ID = string(b)
			case userLongName:
				node.LongName = string(b)
			case userShortName:
				node.ShortName = string(b)
			}
			body = body[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, body)
		if n < 0 {
			return protowire.ParseError(n)
		}
		body = body[n:]
	}
	return nil
}

// decodeChannel decodes one Channel message of the device channel table.
func decodeChannel(body []byte) (*ChannelInfo, error) {
	ch := &ChannelInfo{}

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]

		switch {
		case num == channelIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ch.Index = uint32(v)
			body = body[n:]

		case num == channelSettings && typ == protowire.BytesType:
			settings, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			name, err := decodeChannelName(settings)
			if err != nil {
				return nil, err
			}
			ch.Name = name
			body = body[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}
	return ch, nil
}

// decodeChannelName extracts the name field of a ChannelSettings message.
func decodeChannelName(body []byte) (string, error) {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return "", protowire.ParseError(n)
		}
		body = body[n:]

		if num == channelSettingsName && typ == protowire.BytesType {
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return "", protowire.ParseError(n)
			}
			return string(b), nil
		}

		n = protowire.ConsumeFieldValue(num, typ, body)
		if n < 0 {
			return "", protowire.ParseError(n)
		}
		body = body[n:]
	}
	return "", nil
}

// decodeMyInfo extracts the device's own node number.
func decodeMyInfo(body []byte) (uint32, error) {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		body = body[n:]

		if num == myInfoNodeNum && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			return uint32(v), nil
		}

		n = protowire.ConsumeFieldValue(num, typ, body)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		body = body[n:]
	}
	return 0, nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
