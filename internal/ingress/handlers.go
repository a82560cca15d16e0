// Package ingress implements the Ingress Handlers (C9): thin protocol
// adaptors that decode an HTTP request into a gwexec.ExecutionInput and
// encode the result, mirroring the teacher's internal/handlers/openai
// handler style (Gin, common.AbortWithError for error envelopes,
// common.SSEWriteEvent for streaming frames).
package ingress

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	common "routecodex/internal/handlers/common"
	apperrors "routecodex/internal/errors"
	"routecodex/internal/gwexec"
)

// snapshotHeaderAllowlist mirrors spec §4.5 guarantee 3: only the headers
// that matter downstream are snapshotted into metadata.clientHeaders,
// never re-parsed by components further down the pipeline.
var snapshotHeaderAllowlist = []string{
	"Authorization", "X-Session-Id", "X-Conversation-Id", "X-Route-Hint",
	"Accept", "User-Agent", "X-Request-Id",
}

// Handler wires the three client-facing endpoints to the Request Executor.
type Handler struct {
	Executor *gwexec.Executor
}

// New builds an ingress Handler.
func New(executor *gwexec.Executor) *Handler {
	return &Handler{Executor: executor}
}

// Register mounts the three protocol endpoints under root (spec §6).
func (h *Handler) Register(root gin.IRouter) {
	root.POST("/v1/chat/completions", h.handle("/v1/chat/completions"))
	root.POST("/v1/messages", h.handle("/v1/messages"))
	root.POST("/v1/responses", h.handle("/v1/responses"))
}

func (h *Handler) handle(entryEndpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
			return
		}

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		metadata := map[string]interface{}{}
		if hint := c.GetHeader("X-Route-Hint"); hint != "" {
			metadata["routeHint"] = hint
		}
		if sessionID := firstNonEmpty(c.GetHeader("X-Session-Id"), bodyString(body, "session_id")); sessionID != "" {
			metadata["sessionId"] = sessionID
		}
		if conversationID := firstNonEmpty(c.GetHeader("X-Conversation-Id"), bodyString(body, "conversation_id")); conversationID != "" {
			metadata["conversationId"] = conversationID
		}

		input := gwexec.ExecutionInput{
			RequestID:     requestID,
			EntryEndpoint: entryEndpoint,
			Method:        c.Request.Method,
			Headers:       snapshotAllowedHeaders(c.Request.Header),
			Body:          body,
			Metadata:      metadata,
		}

		result, err := h.Executor.Execute(c.Request.Context(), input)
		if err != nil {
			h.writeError(c, bodyWantsStream(body, entryEndpoint), err)
			return
		}

		h.writeResult(c, result)
	}
}

func (h *Handler) writeResult(c *gin.Context, result *gwexec.ExecutionResult) {
	attachSessionHeaders(c, result.Headers)

	if result.SSE != nil {
		h.streamResult(c, result.SSE)
		return
	}

	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, "application/json", mustJSON(result.Body))
}

func (h *Handler) streamResult(c *gin.Context, stream *gwexec.SSEStream) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher, _ := c.Writer.(http.Flusher)

	for {
		select {
		case evt, ok := <-stream.Events:
			if !ok {
				return
			}
			c.Writer.Write(evt)
			if flusher != nil {
				flusher.Flush()
			}
		case err, ok := <-stream.Err:
			if !ok || err == nil {
				return
			}
			common.SSEWriteEvent(c.Writer, flusher, "error", map[string]interface{}{
				"error": map[string]interface{}{"message": err.Error()},
			})
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) writeError(c *gin.Context, wantsStream bool, err error) {
	apiErr, ok := err.(*apperrors.APIError)
	if !ok {
		apiErr = apperrors.New(http.StatusInternalServerError, "server_error", "server_error", err.Error())
	}
	if !wantsStream {
		common.AbortWithAPIError(c, apiErr)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	flusher, _ := c.Writer.(http.Flusher)
	common.SSEWriteEvent(c.Writer, flusher, "error", map[string]interface{}{
		"error": map[string]interface{}{"message": apiErr.Message, "type": apiErr.Type, "code": apiErr.Code},
	})
}

func attachSessionHeaders(c *gin.Context, headers http.Header) {
	for k := range headers {
		c.Header(strings.ToLower(k), headers.Get(k))
	}
}

func snapshotAllowedHeaders(h http.Header) http.Header {
	out := http.Header{}
	for _, name := range snapshotHeaderAllowlist {
		if v := h.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

func bodyString(body interface{}, key string) string {
	m, ok := body.(map[string]interface{})
	if !ok {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func bodyWantsStream(body interface{}, entryEndpoint string) bool {
	if entryEndpoint == "/v1/responses" {
		return true
	}
	m, ok := body.(map[string]interface{})
	if !ok {
		return false
	}
	v, ok := m["stream"].(bool)
	return ok && v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func mustJSON(v interface{}) []byte {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, _ := json.Marshal(v)
	return data
}
