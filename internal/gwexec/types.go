// Package gwexec implements the Request Executor (C8): the attempt loop
// that ties the Virtual Router (C6), Provider Registry (C4/C3), and
// Response Converter (C7) together with retry/failover, generalizing the
// teacher's internal/upstream.TryWithRotation credential-rotation loop
// from a single-protocol Gemini upstream to an arbitrary provider pool.
package gwexec

import (
	"net/http"
)

// ExecutionInput is the spec §3 ExecutionInput.
type ExecutionInput struct {
	RequestID     string
	EntryEndpoint string
	Method        string
	Headers       http.Header
	Query         map[string]string
	Body          interface{}
	Metadata      map[string]interface{}
}

// ExecutionResult is the spec §3 ExecutionResult.
type ExecutionResult struct {
	Status  int
	Headers http.Header
	Body    interface{}
	// SSE is set instead of Body when the result is a streaming carrier
	// (spec §3: "body may be ... a streaming carrier {__sse_responses}").
	SSE *SSEStream
}

// SSEStream is the iterator-shaped streaming carrier the ingress handler
// relays to the client.
type SSEStream struct {
	Events <-chan []byte
	Err    <-chan error
}
