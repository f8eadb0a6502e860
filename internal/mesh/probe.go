package mesh

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Probe checks whether the device's TCP port accepts connections.
//
// The connection is closed immediately after the handshake. A succeeding
// probe only proves network reachability; the stream API may still be
// booting.
func Probe(ctx context.Context, host string, port int, timeout time.Duration) error {
	if port == 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}
