package gwexec

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"routecodex/internal/convert"
	apperrors "routecodex/internal/errors"
	mon "routecodex/internal/monitoring"
	"routecodex/internal/providerrt"
	"routecodex/internal/quota"
	"routecodex/internal/translator"
	"routecodex/internal/virtualrouter"
)

const (
	defaultMaxAttempts     = 6
	maxMaxAttempts         = 20
	antigravityMaxAttempts = 20
	antigravityCap         = 60
	defaultRetryDelay      = 1 * time.Second
)

// Executor implements the Request Executor (C8).
type Executor struct {
	Router    virtualrouter.Router
	Registry  *providerrt.Registry
	Converter *convert.Converter
	Quota     *quota.Store
	Stats     StatsRecorder

	// NotifyOutcome, if set, is invoked after every attempt (success or
	// failure) so C5 stores other than Quota (health, routing) can be
	// updated by the caller without the executor importing them directly.
	NotifyOutcome func(providerKey string, statusCode int, latencyMs int64, success bool)
}

func maxAttemptsFor(providerFamily string) int {
	if strings.EqualFold(providerFamily, "antigravity") {
		return envInt("ROUTECODEX_ANTIGRAVITY_MAX_PROVIDER_ATTEMPTS", antigravityMaxAttempts, 1, antigravityCap)
	}
	return envInt("ROUTECODEX_MAX_PROVIDER_ATTEMPTS", defaultMaxAttempts, 1, maxMaxAttempts)
}

func envInt(key string, def, min, max int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// Execute runs the attempt loop from spec §4.5.1.
func (e *Executor) Execute(ctx context.Context, input ExecutionInput) (*ExecutionResult, error) {
	statsRequestID := input.RequestID
	e.Stats.RecordRequestStart(statsRequestID)

	body0, err := deepCopyJSON(input.Body)
	if err != nil {
		e.Stats.RecordCompletion(ctx, "", CompletionEvent{StatsRequestID: statsRequestID, Error: true})
		return nil, fmt.Errorf("gwexec: input body is not JSON-copyable: %w", err)
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["clientHeaders"] = snapshotHeaders(input.Headers)
	input.Metadata = metadata

	excluded := make(map[string]struct{})
	var firstError error
	attempt := 0
	// attempt budget is re-evaluated once routing has produced a
	// providerFamily (antigravity gets a higher cap); until then use the
	// default so the very first router call is always permitted.
	maxAttempts := defaultMaxAttempts

	for {
		attempt++
		input.Body, err = deepCopyJSON(body0)
		if err != nil {
			e.Stats.RecordCompletion(ctx, "", CompletionEvent{StatsRequestID: statsRequestID, Error: true})
			return nil, err
		}

		decision, rErr := e.Router.Execute(ctx, virtualrouter.Input{
			Endpoint:  input.EntryEndpoint,
			ID:        input.RequestID,
			Payload:   input.Body,
			Metadata:  metadata,
			RouteHint: stringFromMetadata(metadata, "routeHint"),
			RouteKey:  stringFromMetadata(metadata, "sessionId"),
		}, excluded)
		if rErr != nil {
			e.Stats.RecordCompletion(ctx, "", CompletionEvent{StatsRequestID: statsRequestID, Error: true})
			return nil, rErr
		}

		handle, ok := e.Registry.Lookup(decision.Target.ProviderKey)
		if !ok {
			mon.ExecutorAttemptsTotal.WithLabelValues(input.EntryEndpoint, "fatal_error").Inc()
			attemptErr := apperrors.NewKind(apperrors.KindProviderNotFound, 500, fmt.Sprintf("provider runtime not found: %s", decision.Target.ProviderKey))
			if firstError == nil {
				firstError = attemptErr
			}
			excluded[decision.Target.ProviderKey] = struct{}{}
			mon.ExecutorFailoversTotal.WithLabelValues(decision.Target.ProviderKey).Inc()
			if attempt >= maxAttempts {
				e.Stats.RecordCompletion(ctx, "", CompletionEvent{StatsRequestID: statsRequestID, Error: true})
				return nil, firstError
			}
			continue
		}

		maxAttempts = maxAttemptsFor(handle.Profile.ProviderFamily)

		model := modelFromBody(input.Body)
		enhancedRequestID := enhanceRequestID(input.RequestID, handle.Profile.ProviderID, model, input.EntryEndpoint)

		attemptStart := time.Now()
		result, attemptErr := e.doAttempt(ctx, handle, decision, input, enhancedRequestID)
		latencyMs := time.Since(attemptStart).Milliseconds()

		if attemptErr == nil {
			mon.ExecutorAttemptsTotal.WithLabelValues(input.EntryEndpoint, "success").Inc()
			e.Stats.RecordCompletion(ctx, "", CompletionEvent{
				StatsRequestID: statsRequestID,
				ProviderKey:    decision.Target.ProviderKey,
				Model:          model,
				Error:          false,
				Usage:          result.usage,
			})
			if e.Quota != nil {
				e.Quota.RecordSuccess(decision.Target.ProviderKey, result.usage.TotalTokens)
			}
			if e.NotifyOutcome != nil {
				e.NotifyOutcome(decision.Target.ProviderKey, result.status, latencyMs, true)
			}
			attachSessionHeaders(result.result, metadata)
			return result.result, nil
		}

		outcomeLabel := "fatal_error"
		if apperrors.AsKind(attemptErr) != "" && apperrors.ShouldRetryKind(apperrors.AsKind(attemptErr)) {
			outcomeLabel = "retryable_error"
		}
		mon.ExecutorAttemptsTotal.WithLabelValues(input.EntryEndpoint, outcomeLabel).Inc()

		e.Stats.RecordCompletion(ctx, "", CompletionEvent{
			StatsRequestID: statsRequestID,
			ProviderKey:    decision.Target.ProviderKey,
			Model:          model,
			Error:          true,
		})

		status := httpStatusOf(attemptErr)
		if e.Quota != nil {
			e.Quota.RecordError(decision.Target.ProviderKey, quota.ErrorEvent{StatusCode: status, Kind: apperrors.AsKind(attemptErr)})
		}
		if e.NotifyOutcome != nil {
			e.NotifyOutcome(decision.Target.ProviderKey, status, latencyMs, false)
		}

		if firstError == nil {
			firstError = attemptErr
		}
		if attempt >= maxAttempts || !shouldRetry(attemptErr) {
			log.WithFields(log.Fields{
				"requestId":   statsRequestID,
				"attempt":     attempt,
				"providerKey": decision.Target.ProviderKey,
			}).WithError(firstError).Warn("gwexec: attempt budget exhausted, giving up")
			return nil, firstError
		}

		if len(decision.RoutingDecision.Pool) == 1 && isTransportError(attemptErr) {
			time.Sleep(backoff(attempt))
		} else {
			excluded[decision.Target.ProviderKey] = struct{}{}
			mon.ExecutorFailoversTotal.WithLabelValues(decision.Target.ProviderKey).Inc()
		}
	}
}

type attemptOutcome struct {
	result *ExecutionResult
	usage  Usage
	status int
}

// doAttempt performs one send+convert pass (the body of the try{} block
// in spec §4.5.1).
func (e *Executor) doAttempt(ctx context.Context, handle *providerrt.Handle, decision *virtualrouter.Decision, input ExecutionInput, enhancedRequestID string) (*attemptOutcome, error) {
	release, err := handle.Acquire(ctx)
	if err != nil {
		return nil, apperrors.NewKind(apperrors.KindTimeout, 504, "connection pool acquire timed out")
	}
	defer release()

	raw, status, err := e.sendUpstream(ctx, handle, decision.ProviderPayload, enhancedRequestID)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, classifyHTTPStatus(status, raw)
	}

	converted, convErr := e.Converter.Convert(ctx, raw, convert.Context{
		EntryEndpoint:        input.EntryEndpoint,
		RequestID:            enhancedRequestID,
		ProviderProtocol:     protocolToFormat(handle.Profile.ProviderType),
		OriginalModelID:      modelFromBody(input.Body),
		CompatibilityProfile: handle.Profile.CompatibilityProfile,
		Metadata:             input.Metadata,
		ProcessMode:          convert.ModeConvert,
		AntiTruncation:       handle.Profile.AntiTruncation,
		ProviderInvoke:       e.providerInvoker(handle, enhancedRequestID),
		Reenter:              e.reenter(input),
	})
	if convErr != nil {
		return nil, convErr
	}

	usage := extractUsage(converted.Body)
	return &attemptOutcome{
		result: &ExecutionResult{Status: 200, Body: converted.Body},
		usage:  usage,
		status: status,
	}, nil
}

// providerInvoker builds the convert.ProviderInvoker the converter uses to
// re-issue a follow-up HTTP call against the same provider handle (spec
// §4.6), used for anti-truncation continuation requests.
func (e *Executor) providerInvoker(handle *providerrt.Handle, requestID string) convert.ProviderInvoker {
	return func(ctx context.Context, payload interface{}) (json.RawMessage, error) {
		raw, status, err := e.sendUpstream(ctx, handle, payload, requestID)
		if err != nil {
			return nil, err
		}
		if status >= 400 {
			return nil, classifyHTTPStatus(status, raw)
		}
		return json.RawMessage(raw), nil
	}
}

// reenter builds the convert.ReentryFunc the converter uses for server-tool
// follow-up (spec §4.6): it re-enters the attempt loop with a nested
// ExecutionInput derived from the original request.
func (e *Executor) reenter(original ExecutionInput) convert.ReentryFunc {
	return func(ctx context.Context, in convert.ReentryInput) (*convert.ReentryResult, error) {
		nested := ExecutionInput{
			RequestID:     original.RequestID + ".followup",
			EntryEndpoint: in.EntryEndpoint,
			Method:        original.Method,
			Headers:       original.Headers,
			Query:         original.Query,
			Body:          in.Body,
			Metadata:      in.Metadata,
		}
		result, err := e.Execute(ctx, nested)
		if err != nil {
			return nil, err
		}
		return &convert.ReentryResult{Body: result.Body}, nil
	}
}

// sendUpstream issues the provider HTTP call (spec §4.5.1 handle.sendUpstream).
func (e *Executor) sendUpstream(ctx context.Context, handle *providerrt.Handle, payload interface{}, requestID string) ([]byte, int, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, apperrors.NewKind(apperrors.KindProviderProtocolErr, 500, "failed to marshal provider payload")
	}

	url := handle.Profile.BaseURL + handle.Profile.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, 0, apperrors.NewKind(apperrors.KindNetworkError, 0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	for k, v := range handle.Profile.Headers {
		req.Header.Set(k, v)
	}
	bearer, berr := handle.Bearer(ctx)
	if berr != nil {
		return nil, 0, berr
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := handle.Client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, apperrors.NewKind(apperrors.KindTimeout, 504, "upstream request timed out")
		}
		return nil, 0, classifyNetworkError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, classifyNetworkError(err)
	}
	return data, resp.StatusCode, nil
}

// classifyNetworkError tags a transport-level failure with the dispatch-engine
// Kind the retry loop understands, using the teacher's substring-based
// diagnosis (DNS, TLS, reset, refused, timeout) for the surfaced message.
func classifyNetworkError(err error) error {
	mapped := apperrors.MapNetworkError(err)
	kind := apperrors.KindNetworkError
	if mapped.Code == "timeout" || mapped.Code == "request_canceled" {
		kind = apperrors.KindTimeout
	}
	return apperrors.NewKind(kind, mapped.HTTPStatus, mapped.Message)
}

func classifyHTTPStatus(status int, body []byte) error {
	msg := apperrors.ExtractUpstreamMessage(body)
	switch {
	case status == 429:
		return apperrors.NewKind(apperrors.KindHTTP429, status, msg)
	case status >= 500:
		return apperrors.NewKind(apperrors.KindHTTP5xx, status, msg)
	case status == 401:
		return apperrors.NewKind(apperrors.KindAuthenticationError, status, msg)
	case status == 403:
		return apperrors.NewKind(apperrors.KindPermissionError, status, msg)
	case status == 404:
		return apperrors.NewKind(apperrors.KindNotFound, status, msg)
	case status == 422 || status == 400:
		return apperrors.NewKind(apperrors.KindValidationError, status, msg)
	default:
		return apperrors.NewKind(apperrors.KindHTTP4xx, status, msg)
	}
}

func shouldRetry(err error) bool {
	kind := apperrors.AsKind(err)
	if kind == "" {
		return false
	}
	return apperrors.ShouldRetryKind(kind)
}

func isTransportError(err error) bool {
	switch apperrors.AsKind(err) {
	case apperrors.KindTimeout, apperrors.KindNetworkError:
		return true
	default:
		return false
	}
}

func httpStatusOf(err error) int {
	return apperrors.HTTPStatusOf(err)
}

func backoff(attempt int) time.Duration {
	base := defaultRetryDelay
	dur := base << uint(attempt-1)
	if dur > 30*time.Second {
		dur = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(dur) / 4 + 1))
	return dur + jitter
}

// enhanceRequestID is the deterministic, idempotent transform from spec
// §4.5.4: repeated enhancement with the same inputs yields the same
// output.
func enhanceRequestID(original, providerID, model, endpoint string) string {
	suffix := enhancementSuffix(providerID, model, endpoint)
	if strings.HasSuffix(original, suffix) {
		return original
	}
	return original + suffix
}

func enhancementSuffix(providerID, model, endpoint string) string {
	h := sha1.New()
	h.Write([]byte(providerID))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	return "." + hex.EncodeToString(h.Sum(nil))[:10]
}

func deepCopyJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func snapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func stringFromMetadata(metadata map[string]interface{}, key string) string {
	if v, ok := metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func modelFromBody(body interface{}) string {
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, "model").String()
}

func protocolToFormat(p providerrt.Protocol) translator.Format {
	switch p {
	case providerrt.ProtocolAnthropicMsgs:
		return translator.FormatAnthropic
	case providerrt.ProtocolGeminiChat:
		return translator.FormatGemini
	default:
		return translator.FormatOpenAI
	}
}

func extractUsage(body interface{}) Usage {
	data, err := json.Marshal(body)
	if err != nil {
		return Usage{}
	}
	root := gjson.ParseBytes(data)
	prompt := root.Get("usage.prompt_tokens").Int()
	if !root.Get("usage.prompt_tokens").Exists() {
		prompt = root.Get("usage.input_tokens").Int()
	}
	completion := root.Get("usage.completion_tokens").Int()
	if !root.Get("usage.completion_tokens").Exists() {
		completion = root.Get("usage.output_tokens").Int()
	}
	total := root.Get("usage.total_tokens").Int()
	if total == 0 {
		total = prompt + completion
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// attachSessionHeaders implements spec §4.7.
func attachSessionHeaders(result *ExecutionResult, metadata map[string]interface{}) {
	sessionID := stringFromMetadata(metadata, "sessionId")
	conversationID := stringFromMetadata(metadata, "conversationId")
	if sessionID == "" && conversationID == "" {
		return
	}
	if result.Headers == nil {
		result.Headers = http.Header{}
	}
	if sessionID != "" && result.Headers.Get("session_id") == "" {
		result.Headers.Set("session_id", sessionID)
	}
	if result.Headers.Get("conversation_id") == "" {
		if conversationID != "" {
			result.Headers.Set("conversation_id", conversationID)
		} else if sessionID != "" {
			result.Headers.Set("conversation_id", sessionID)
		}
	}
}
