package convert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"routecodex/internal/translator"
)

// maxContinuations bounds how many follow-up calls a single response may
// trigger, so a provider that always reports length/max_tokens cannot spin
// the executor forever.
const maxContinuations = 3

// responseLooksTruncated reports whether a client-shaped response ended
// because the provider ran out of output budget rather than because the
// model finished answering. Generalizes the teacher's
// internal/antitrunc.ResponseComplete, which only recognised Gemini's
// finishReason, to the OpenAI/Anthropic shapes the converter produces.
func responseLooksTruncated(body []byte, clientFormat translator.Format) bool {
	root := gjson.ParseBytes(body)
	switch clientFormat {
	case translator.FormatAnthropic:
		return root.Get("stop_reason").String() == "max_tokens"
	default:
		return root.Get("choices.0.finish_reason").String() == "length"
	}
}

// continueTruncated re-invokes the provider with a continuation request
// built from the partial answer, then splices the continuation text onto
// the original response. It loops until the provider stops reporting a
// length-truncated finish or maxContinuations is hit.
func (c *Converter) continueTruncated(ctx context.Context, converted []byte, clientFormat translator.Format, adapterCtx Context) ([]byte, error) {
	current := converted
	for i := 0; i < maxContinuations; i++ {
		partial := extractText(current, clientFormat)
		model := adapterCtx.OriginalModelID

		continuationReq, err := buildContinuationRequest(clientFormat, model, partial)
		if err != nil {
			return current, err
		}

		providerReq := c.registry.TranslateRequest(clientFormat, adapterCtx.ProviderProtocol, model, continuationReq, false)
		raw, err := adapterCtx.ProviderInvoke(ctx, json.RawMessage(providerReq))
		if err != nil {
			return current, err
		}

		continuedClient, err := c.registry.TranslateResponse(ctx, adapterCtx.ProviderProtocol, clientFormat, model, raw)
		if err != nil {
			return current, err
		}

		current, err = spliceContinuation(current, continuedClient, clientFormat)
		if err != nil {
			return current, err
		}
		if !responseLooksTruncated(current, clientFormat) {
			break
		}
	}
	return current, nil
}

// extractText pulls the assistant text accumulated so far out of a
// client-shaped response.
func extractText(body []byte, clientFormat translator.Format) string {
	root := gjson.ParseBytes(body)
	if clientFormat == translator.FormatAnthropic {
		return root.Get("content.0.text").String()
	}
	return root.Get("choices.0.message.content").String()
}

// buildContinuationRequest builds a client-shaped chat request asking the
// model to continue its own truncated answer verbatim.
func buildContinuationRequest(clientFormat translator.Format, model, partial string) ([]byte, error) {
	const instruction = "Continue your previous answer exactly where it left off. Do not repeat any text you already produced."
	switch clientFormat {
	case translator.FormatAnthropic:
		return json.Marshal(map[string]interface{}{
			"model": model,
			"messages": []map[string]interface{}{
				{"role": "assistant", "content": partial},
				{"role": "user", "content": instruction},
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"model": model,
			"messages": []map[string]interface{}{
				{"role": "assistant", "content": partial},
				{"role": "user", "content": instruction},
			},
		})
	}
}

// spliceContinuation appends the continuation response's text onto the
// original response body, keeping the continuation's finish_reason/usage
// so the caller sees the final state.
func spliceContinuation(original, continuation []byte, clientFormat translator.Format) ([]byte, error) {
	origText := extractText(original, clientFormat)
	contText := translator.SanitizeOutputText(extractText(continuation, clientFormat))
	merged := origText + contText

	if clientFormat == translator.FormatAnthropic {
		out, err := sjson.SetBytes(continuation, "content.0.text", merged)
		if err != nil {
			return original, fmt.Errorf("splice anthropic continuation: %w", err)
		}
		return out, nil
	}

	out, err := sjson.SetBytes(continuation, "choices.0.message.content", merged)
	if err != nil {
		return original, fmt.Errorf("splice openai continuation: %w", err)
	}
	return out, nil
}
