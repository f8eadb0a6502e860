package mesh

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// isTimeoutError reports whether err is a timeout in any of the shapes
// the network stack produces.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// isTransportError reports whether err means the underlying connection is
// unusable, as opposed to a semantic failure.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	if isTimeoutError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"broken pipe", "connection reset", "use of closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
