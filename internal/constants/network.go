package constants

import "time"

const (
	// DefaultDialTimeout bounds TCP dial time for outbound provider clients.
	DefaultDialTimeout = 10 * time.Second
	// DefaultTLSHandshakeTimeout bounds TLS handshake time.
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultResponseHeaderTimeout bounds time waiting for response headers.
	DefaultResponseHeaderTimeout = 60 * time.Second
	// DefaultExpectContinueTimeout bounds the 100-continue wait.
	DefaultExpectContinueTimeout = 2 * time.Second
)
