package apiclient

import (
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

var retryableErrorSuffixes = []string{
	syscall.ECONNREFUSED.Error(),
	syscall.ECONNRESET.Error(),
	syscall.ETIMEDOUT.Error(),
	"no such host",
	"remote error: handshake failure",
	io.ErrUnexpectedEOF.Error(),
	io.EOF.Error(),
}

// isRetryableError reports whether err looks like a transient network
// failure worth retrying, mirroring the connection-error heuristics the
// control-service client idiom uses elsewhere in the corpus.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Error(), "use of closed network connection") {
		return true
	}

	if strings.Contains(err.Error(), "request canceled while waiting for connection") {
		return true
	}

	s := err.Error()
	for _, suffix := range retryableErrorSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
