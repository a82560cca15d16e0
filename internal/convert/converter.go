// Package convert implements the Response Converter Adapter (C7): it
// wraps internal/translator's format-to-format transforms with the
// adapter contract from spec §4.6/§6 — stage recording, a provider
// invoker for server-tool follow-up HTTP, and a pipeline re-entry
// callback for multi-hop conversions.
package convert

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "routecodex/internal/errors"
	"routecodex/internal/streaming"
	"routecodex/internal/translator"
)

// ProcessMode selects how the converter treats the upstream body.
type ProcessMode string

const (
	ModePassthrough ProcessMode = "passthrough"
	ModeConvert     ProcessMode = "convert"
)

// StageRecorder captures intermediate snapshots for debugging (spec §4.6:
// "a stage recorder for snapshots"). Implementations may persist these or
// discard them entirely; the converter never depends on the outcome.
type StageRecorder interface {
	RecordStage(stage string, payload interface{})
}

// NoopStageRecorder discards every stage.
type NoopStageRecorder struct{}

// RecordStage implements StageRecorder.
func (NoopStageRecorder) RecordStage(string, interface{}) {}

// ProviderInvoker lets the converter issue a follow-up HTTP call against
// the same provider without going through the full pipeline (spec §4.6:
// "a provider invoker for follow-up HTTP").
type ProviderInvoker func(ctx context.Context, payload interface{}) (json.RawMessage, error)

// ReentryInput is the nested ExecutionInput the converter builds for a
// server-tool follow-up (spec §4.6 re-entry callback).
type ReentryInput struct {
	EntryEndpoint string
	Body          interface{}
	Metadata      map[string]interface{}
}

// ReentryResult is whatever the re-entered pipeline pass produced, handed
// back to the converter.
type ReentryResult struct {
	Body interface{}
}

// ReentryFunc re-enters the executor's attempt loop for a server-tool
// follow-up; implemented by internal/gwexec.Executor.
type ReentryFunc func(ctx context.Context, input ReentryInput) (*ReentryResult, error)

// Context is the adapter context handed to the external converter per
// request (spec §6: "context (endpoint, requestId, providerProtocol,
// originalModelId, compatibilityProfile, routeId)").
type Context struct {
	EntryEndpoint        string
	RequestID            string
	ProviderProtocol     translator.Format
	OriginalModelID      string
	CompatibilityProfile string
	RouteID              string

	Metadata map[string]interface{}

	WantsStream    bool
	ProcessMode    ProcessMode
	StageRecorder  StageRecorder
	ProviderInvoke ProviderInvoker
	Reenter        ReentryFunc

	// AntiTruncation enables the continuation follow-up below when the
	// provider profile has it turned on (generalizes the teacher's
	// internal/streaming.WithAntiTruncation, which only ever continued a
	// Gemini-shaped request).
	AntiTruncation bool
}

// Result is the converter's output (spec §6: {body?, __sse_responses?, format?}).
type Result struct {
	Body        interface{}
	SSEResponse *SSECarrier
	Format      translator.Format
}

// SSECarrier wraps an already-translated event-stream body the ingress
// handler relays verbatim (spec §3 ExecutionResult body carrier).
type SSECarrier struct {
	Events <-chan []byte
	Err    <-chan error
}

// entryProtocol maps a client-facing endpoint to its native wire format.
func entryProtocol(endpoint string) translator.Format {
	switch {
	case strings.HasPrefix(endpoint, "/v1/messages"):
		return translator.FormatAnthropic
	case strings.HasPrefix(endpoint, "/v1/chat/completions"), strings.HasPrefix(endpoint, "/v1/responses"):
		return translator.FormatOpenAI
	default:
		return translator.FormatGeneric
	}
}

// Converter implements the Response Converter Adapter (C7).
type Converter struct {
	registry *translator.Registry
}

// New builds a Converter backed by the given translator registry (pass
// translator.Default() to share the process-wide set of registered
// transforms).
func New(registry *translator.Registry) *Converter {
	if registry == nil {
		registry = translator.Default()
	}
	return &Converter{registry: registry}
}

// reservedEndpoints is the set the spec names explicitly (§4.6: "Endpoint
// matches none of ... → return raw").
var reservedEndpoints = map[string]bool{
	"/v1/chat/completions": true,
	"/v1/messages":         true,
	"/v1/responses":        true,
}

func knownEndpoint(endpoint string) bool {
	for prefix := range reservedEndpoints {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

// Convert implements the spec §4.6 decision tree.
func (c *Converter) Convert(ctx context.Context, body []byte, adapterCtx Context) (*Result, error) {
	rec := adapterCtx.StageRecorder
	if rec == nil {
		rec = NoopStageRecorder{}
	}
	rec.RecordStage("upstream.raw", string(body))

	if adapterCtx.ProcessMode == ModePassthrough {
		return &Result{Body: json.RawMessage(body), Format: adapterCtx.ProviderProtocol}, nil
	}
	if !knownEndpoint(adapterCtx.EntryEndpoint) {
		return &Result{Body: json.RawMessage(body), Format: adapterCtx.ProviderProtocol}, nil
	}
	if sseErr := detectWrappedSSEError(body, 0); sseErr != "" {
		return nil, apperrors.NewKind(apperrors.KindSSEDecodeError, 502, sseErr)
	}

	clientFormat := entryProtocol(adapterCtx.EntryEndpoint)
	converted, err := c.registry.TranslateResponse(ctx, adapterCtx.ProviderProtocol, clientFormat, adapterCtx.OriginalModelID, body)
	if err != nil {
		if adapterCtx.WantsStream {
			return nil, apperrors.NewKind(apperrors.KindSSEDecodeError, 502, err.Error())
		}
		rec.RecordStage("convert.fallback_raw", err.Error())
		return &Result{Body: json.RawMessage(body), Format: adapterCtx.ProviderProtocol}, nil
	}
	rec.RecordStage("convert.result", string(converted))

	if needsServerToolFollowup(converted) && adapterCtx.Reenter != nil {
		return c.serverToolFollowup(ctx, converted, adapterCtx)
	}

	if adapterCtx.AntiTruncation && adapterCtx.ProviderInvoke != nil && responseLooksTruncated(converted, clientFormat) {
		continued, contErr := c.continueTruncated(ctx, converted, clientFormat, adapterCtx)
		if contErr != nil {
			rec.RecordStage("convert.anti_truncation_failed", contErr.Error())
		} else {
			converted = continued
			rec.RecordStage("convert.anti_truncation", string(converted))
		}
	}

	if adapterCtx.WantsStream && clientFormat == translator.FormatOpenAI {
		rec.RecordStage("convert.fake_stream", nil)
		return &Result{SSEResponse: fakeStreamCarrier(ctx, converted, adapterCtx.OriginalModelID), Format: clientFormat}, nil
	}

	return &Result{Body: json.RawMessage(converted), Format: clientFormat}, nil
}

// fakeStreamCarrier chunks a complete non-streaming response into SSE
// frames for a client that asked for stream:true against an upstream that
// only returns a complete body, recovered from the teacher's fake-streaming
// mode (internal/streaming/fake_stream.go).
func fakeStreamCarrier(ctx context.Context, completeResponse []byte, model string) *SSECarrier {
	events := make(chan []byte)
	errs := make(chan error, 1)

	reader := streaming.ConvertToFakeStream(ctx, completeResponse, model, streaming.DefaultFakeStreamConfig())
	go func() {
		defer close(events)
		defer close(errs)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case events <- []byte(line + "\n\n"):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	return &SSECarrier{Events: events, Err: errs}
}

// detectWrappedSSEError looks for {mode:"sse", error:"…"} up to depth 2
// (spec §4.6).
func detectWrappedSSEError(body []byte, depth int) string {
	if depth > 2 {
		return ""
	}
	root := gjson.ParseBytes(body)
	if root.Get("mode").String() == "sse" {
		if errStr := root.Get("error"); errStr.Exists() {
			return errStr.String()
		}
	}
	if nested := root.Get("body"); nested.Exists() && nested.IsObject() {
		return detectWrappedSSEError([]byte(nested.Raw), depth+1)
	}
	return ""
}

// needsServerToolFollowup inspects a converted body for a pending tool
// call the spec's source runs through a second pipeline pass. This
// adapter recognises the OpenAI tool_calls / Anthropic tool_use shapes the
// translators above already produce.
func needsServerToolFollowup(converted []byte) bool {
	root := gjson.ParseBytes(converted)
	if root.Get("choices.0.finish_reason").String() == "tool_calls" {
		return true
	}
	if root.Get("stop_reason").String() == "tool_use" {
		return true
	}
	return false
}

// serverToolFollowup builds the nested metadata and re-enters the
// pipeline per spec §4.6's re-entry callback.
func (c *Converter) serverToolFollowup(ctx context.Context, converted []byte, adapterCtx Context) (*Result, error) {
	nestedMeta := make(map[string]interface{}, len(adapterCtx.Metadata)+4)
	for k, v := range adapterCtx.Metadata {
		nestedMeta[k] = v
	}
	nestedMeta["entryEndpoint"] = "/v1/chat/completions"
	nestedMeta["direction"] = "request"
	nestedMeta["stage"] = "inbound"
	nestedMeta["providerProtocol"] = string(translator.FormatOpenAI)
	nestedMeta["__rt.serverToolFollowup"] = true
	delete(nestedMeta, "clientHeaders")
	delete(nestedMeta, "clientRequestId")

	var body interface{}
	if err := json.Unmarshal(converted, &body); err != nil {
		return nil, apperrors.NewKind(apperrors.KindServerToolFollowup, 502, fmt.Sprintf("server-tool follow-up body decode failed: %v", err))
	}

	res, err := adapterCtx.Reenter(ctx, ReentryInput{
		EntryEndpoint: "/v1/chat/completions",
		Body:          body,
		Metadata:      nestedMeta,
	})
	if err != nil {
		return nil, apperrors.NewKind(apperrors.KindServerToolFollowup, 502, fmt.Sprintf("server-tool follow-up failed: %v", err))
	}
	return &Result{Body: res.Body, Format: adapterCtx.ProviderProtocol}, nil
}
