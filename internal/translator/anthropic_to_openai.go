package translator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register(FormatAnthropic, FormatOpenAI, TranslatorConfig{
		RequestTransform:  AnthropicToOpenAIRequest,
		ResponseTransform: AnthropicToOpenAIResponse,
	})
	Register(FormatOpenAI, FormatAnthropic, TranslatorConfig{
		RequestTransform:  OpenAIToAnthropicRequest,
		ResponseTransform: OpenAIToAnthropicResponse,
	})
}

// AnthropicToOpenAIRequest converts an Anthropic Messages request body into
// an OpenAI chat completions request, flattening Anthropic's content-block
// array into OpenAI's role/content message shape and lifting the top-level
// "system" field into a leading system message.
func AnthropicToOpenAIRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{}`
	out, _ = sjson.Set(out, "model", firstNonEmpty(model, root.Get("model").String()))
	out, _ = sjson.Set(out, "stream", stream)
	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.Set(out, "max_tokens", v.Value())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Value())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Value())
	}

	var messages []map[string]interface{}
	if sys := root.Get("system"); sys.Exists() {
		messages = append(messages, map[string]interface{}{"role": "system", "content": anthropicSystemToText(sys)})
	}
	for _, m := range root.Get("messages").Array() {
		messages = append(messages, anthropicMessageToOpenAI(m))
	}
	msgJSON, _ := json.Marshal(messages)
	out, _ = sjson.SetRaw(out, "messages", string(msgJSON))

	if tools := root.Get("tools"); tools.Exists() {
		var openaiTools []map[string]interface{}
		for _, t := range tools.Array() {
			openaiTools = append(openaiTools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Get("name").String(),
					"description": t.Get("description").String(),
					"parameters":  t.Get("input_schema").Value(),
				},
			})
		}
		toolsJSON, _ := json.Marshal(openaiTools)
		out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
	}

	return []byte(out)
}

func anthropicSystemToText(sys gjson.Result) string {
	if sys.IsArray() {
		var b strings.Builder
		for _, block := range sys.Array() {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(block.Get("text").String())
		}
		return b.String()
	}
	return sys.String()
}

func anthropicMessageToOpenAI(m gjson.Result) map[string]interface{} {
	role := m.Get("role").String()
	content := m.Get("content")
	if content.IsArray() {
		var text strings.Builder
		var toolCalls []map[string]interface{}
		for _, block := range content.Array() {
			switch block.Get("type").String() {
			case "text":
				text.WriteString(block.Get("text").String())
			case "tool_use":
				argsJSON, _ := json.Marshal(block.Get("input").Value())
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   block.Get("id").String(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      block.Get("name").String(),
						"arguments": string(argsJSON),
					},
				})
			case "tool_result":
				role = "tool"
				text.WriteString(block.Get("content").String())
			}
		}
		out := map[string]interface{}{"role": role, "content": text.String()}
		if len(toolCalls) > 0 {
			out["tool_calls"] = toolCalls
			out["content"] = nil
		}
		return out
	}
	return map[string]interface{}{"role": role, "content": content.String()}
}

// AnthropicToOpenAIResponse converts a non-streaming Anthropic Messages
// response into an OpenAI chat-completion response.
func AnthropicToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	if root.Get("type").String() == "error" {
		return responseBody, nil
	}

	var text strings.Builder
	var toolCalls []map[string]interface{}
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Get("input").Value())
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.Get("name").String(),
					"arguments": string(argsJSON),
				},
			})
		}
	}

	message := map[string]interface{}{"role": "assistant", "content": text.String()}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	choice := map[string]interface{}{
		"index":         0,
		"message":       message,
		"finish_reason": anthropicStopReasonToOpenAI(root.Get("stop_reason").String()),
	}

	out := `{"object":"chat.completion"}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "model", firstNonEmpty(model, root.Get("model").String()))
	choicesJSON, _ := json.Marshal([]map[string]interface{}{choice})
	out, _ = sjson.SetRaw(out, "choices", string(choicesJSON))
	out, _ = sjson.Set(out, "usage.prompt_tokens", root.Get("usage.input_tokens").Int())
	out, _ = sjson.Set(out, "usage.completion_tokens", root.Get("usage.output_tokens").Int())
	out, _ = sjson.Set(out, "usage.total_tokens", root.Get("usage.input_tokens").Int()+root.Get("usage.output_tokens").Int())

	return []byte(out), nil
}

func anthropicStopReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// OpenAIToAnthropicRequest converts an OpenAI chat completions request into
// an Anthropic Messages request.
func OpenAIToAnthropicRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{}`
	out, _ = sjson.Set(out, "model", firstNonEmpty(model, root.Get("model").String()))
	out, _ = sjson.Set(out, "stream", stream)
	maxTokens := root.Get("max_tokens")
	if maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	} else {
		out, _ = sjson.Set(out, "max_tokens", 4096)
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Value())
	}

	var system strings.Builder
	var messages []map[string]interface{}
	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		if role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Get("content").String())
			continue
		}
		messages = append(messages, map[string]interface{}{
			"role":    role,
			"content": m.Get("content").String(),
		})
	}
	if system.Len() > 0 {
		out, _ = sjson.Set(out, "system", system.String())
	}
	msgJSON, _ := json.Marshal(messages)
	out, _ = sjson.SetRaw(out, "messages", string(msgJSON))

	return []byte(out)
}

// OpenAIToAnthropicResponse converts a non-streaming OpenAI chat-completion
// response into an Anthropic Messages response.
func OpenAIToAnthropicResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	choice := root.Get("choices.0")
	if !choice.Exists() {
		return responseBody, nil
	}

	var contentBlocks []map[string]interface{}
	if text := choice.Get("message.content").String(); text != "" {
		contentBlocks = append(contentBlocks, map[string]interface{}{"type": "text", "text": text})
	}
	for _, tc := range choice.Get("message.tool_calls").Array() {
		var args interface{}
		_ = json.Unmarshal([]byte(tc.Get("function.arguments").String()), &args)
		contentBlocks = append(contentBlocks, map[string]interface{}{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": args,
		})
	}

	out := `{"type":"message","role":"assistant"}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "model", firstNonEmpty(model, root.Get("model").String()))
	blocksJSON, _ := json.Marshal(contentBlocks)
	out, _ = sjson.SetRaw(out, "content", string(blocksJSON))
	out, _ = sjson.Set(out, "stop_reason", openAIFinishReasonToAnthropic(choice.Get("finish_reason").String()))
	out, _ = sjson.Set(out, "usage.input_tokens", root.Get("usage.prompt_tokens").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", root.Get("usage.completion_tokens").Int())

	return []byte(out), nil
}

func openAIFinishReasonToAnthropic(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
