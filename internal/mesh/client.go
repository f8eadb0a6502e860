package mesh

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Session is one live connection to a mesh device.
type Session interface {
	// SendText transmits a direct text message to a node. The context
	// bounds the wait on the duty-cycle limiter.
	SendText(ctx context.Context, text string, dest uint32) error

	// SendChannel broadcasts a text message on a channel index.
	SendChannel(ctx context.Context, text string, channel uint32) error

	// Ping sends a heartbeat frame to verify the socket is alive.
	Ping() error

	// Node returns the cached node info for a node number.
	Node(num uint32) (NodeInfo, bool)

	// Nodes returns a snapshot of all known nodes.
	Nodes() []NodeInfo

	// ChannelIndex resolves a channel name to its device slot. Names
	// compare case-insensitively.
	ChannelIndex(name string) (uint32, bool)

	// OnPacket registers the receiver for inbound text packets. The
	// callback runs on the read loop goroutine and must not block.
	OnPacket(fn func(Packet))

	// Done is closed when the session dies for any reason.
	Done() <-chan struct{}

	// Close tears the connection down.
	Close() error
}

// dialTimeout bounds the TCP connect of one session attempt.
const dialTimeout = 10 * time.Second

// configWait bounds the initial config dump after connecting.
const configWait = 20 * time.Second

// sendBurst is the short-term burst the radio duty cycle tolerates.
const sendBurst = 5

// Client implements Session over the Meshtastic TCP stream.
type Client struct {
	conn   net.Conn
	writer *bufio.Writer
	logger *slog.Logger

	// limiter paces outbound messages to respect the radio duty cycle.
	limiter *rate.Limiter

	mu        sync.Mutex
	nodes     map[uint32]NodeInfo
	channels  map[string]uint32
	onPacket  func(Packet)
	myNodeNum uint32
	closed    bool

	done chan struct{}
}

// Dial connects to a mesh device and completes the initial config dump.
//
// The returned client is ready to send. The caller owns the session and
// must Close it.
func Dial(ctx context.Context, host string, port int, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if port == 0 {
		port = DefaultPort
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("mesh: dial %s: %w", host, err)
	}

	c := &Client{
		conn:     conn,
		writer:   bufio.NewWriter(conn),
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(time.Second), sendBurst),
		nodes:    make(map[uint32]NodeInfo),
		channels: make(map[string]uint32),
		done:     make(chan struct{}),
	}

	if err := c.start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// start requests the config dump and waits for its completion marker,
// caching node info along the way.
func (c *Client) start(ctx context.Context) error {
	configID := rand.Uint32()
	if err := c.writeFrameLocked(marshalWantConfig(configID)); err != nil {
		return fmt.Errorf("mesh: request config: %w", err)
	}

	deadline := time.Now().Add(configWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	reader := bufio.NewReader(c.conn)
	for {
		payload, err := readFrame(reader)
		if err != nil {
			return fmt.Errorf("mesh: config dump: %w", err)
		}
		ev, err := decodeFromRadio(payload)
		if err != nil {
			c.logger.Debug("undecodable frame during config dump", "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		c.applyEvent(ev)
		if ev.ConfigComplete && ev.ConfigID == configID {
			break
		}
	}

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	c.mu.Lock()
	known := len(c.nodes)
	c.mu.Unlock()
	c.logger.Info("mesh session established",
		"remote", c.conn.RemoteAddr().String(),
		"known_nodes", known)

	go c.readLoop(reader)
	return nil
}

// readLoop consumes the stream until the connection dies.
func (c *Client) readLoop(reader *bufio.Reader) {
	defer close(c.done)

	for {
		payload, err := readFrame(reader)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("mesh read loop ended", "error", err)
			}
			return
		}

		ev, err := decodeFromRadio(payload)
		if err != nil {
			c.logger.Debug("undecodable frame", "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		c.applyEvent(ev)

		if ev.Packet != nil {
			c.mu.Lock()
			fn := c.onPacket
			self := c.myNodeNum
			c.mu.Unlock()

			// Drop our own transmissions echoed back by the device.
			if ev.Packet.From == self {
				continue
			}
			if fn != nil {
				fn(*ev.Packet)
			}
		}
	}
}

// applyEvent folds a decoded event into the client state.
func (c *Client) applyEvent(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case ev.Node != nil:
		c.nodes[ev.Node.Num] = *ev.Node
	case ev.Channel != nil && ev.Channel.Name != "":
		c.channels[strings.ToLower(ev.Channel.Name)] = ev.Channel.Index
	case ev.MyInfo:
		c.myNodeNum = ev.MyNodeNum
	}
}

// SendText transmits a direct text message to a node.
func (c *Client) SendText(ctx context.Context, text string, dest uint32) error {
	return c.send(ctx, text, dest, 0)
}

// SendChannel broadcasts a text message on a channel index.
func (c *Client) SendChannel(ctx context.Context, text string, channel uint32) error {
	return c.send(ctx, text, Broadcast, channel)
}

func (c *Client) send(ctx context.Context, text string, dest, channel uint32) error {
	// Blocks when the duty-cycle budget is spent; cancellation
	// interrupts the wait.
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := marshalTextMessage(text, dest, channel, rand.Uint32())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.writeFrameLocked(payload)
}

// Ping sends a heartbeat frame. A dead socket surfaces as a write error.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.writeFrameLocked(marshalHeartbeat())
}

// writeFrameLocked frames and flushes one payload. Caller holds c.mu
// (or has exclusive access during start).
func (c *Client) writeFrameLocked(payload []byte) error {
	if err := writeFrame(c.writer, payload); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Node returns the cached node info for a node number.
func (c *Client) Node(num uint32) (NodeInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[num]
	return n, ok
}

// Nodes returns a snapshot of all known nodes.
func (c *Client) Nodes() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// ChannelIndex resolves a channel name cached from the config dump.
func (c *Client) ChannelIndex(name string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.channels[strings.ToLower(name)]
	return idx, ok
}

// OnPacket registers the receiver for inbound text packets.
func (c *Client) OnPacket(fn func(Packet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = fn
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
