package translator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestAnthropicToOpenAIRequestFlattensSystemAndMessages(t *testing.T) {
	input := `{
		"model": "claude-3-opus",
		"max_tokens": 1024,
		"system": "be concise",
		"messages": [
			{"role": "user", "content": "hello"}
		]
	}`
	out := AnthropicToOpenAIRequest("", []byte(input), false)
	root := gjson.ParseBytes(out)

	require.Equal(t, "claude-3-opus", root.Get("model").String())
	require.EqualValues(t, 1024, root.Get("max_tokens").Int())
	require.Equal(t, "system", root.Get("messages.0.role").String())
	require.Equal(t, "be concise", root.Get("messages.0.content").String())
	require.Equal(t, "user", root.Get("messages.1.role").String())
	require.Equal(t, "hello", root.Get("messages.1.content").String())
}

func TestAnthropicToOpenAIRequestConvertsToolUseBlocks(t *testing.T) {
	input := `{
		"model": "claude-3-opus",
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "call1", "name": "lookup", "input": {"q": "x"}}]}
		]
	}`
	out := AnthropicToOpenAIRequest("", []byte(input), false)
	root := gjson.ParseBytes(out)

	require.Equal(t, "call1", root.Get("messages.0.tool_calls.0.id").String())
	require.Equal(t, "lookup", root.Get("messages.0.tool_calls.0.function.name").String())
	require.Equal(t, gjson.Null, root.Get("messages.0.content").Type)
}

func TestAnthropicToOpenAIRequestConvertsToolsDefinition(t *testing.T) {
	input := `{
		"model": "claude-3-opus",
		"messages": [],
		"tools": [{"name": "lookup", "description": "looks things up", "input_schema": {"type": "object"}}]
	}`
	out := AnthropicToOpenAIRequest("", []byte(input), false)
	root := gjson.ParseBytes(out)

	require.Equal(t, "function", root.Get("tools.0.type").String())
	require.Equal(t, "lookup", root.Get("tools.0.function.name").String())
}

func TestAnthropicToOpenAIResponseConvertsTextContent(t *testing.T) {
	input := `{
		"id": "msg_1",
		"model": "claude-3-opus",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "hi there"}],
		"usage": {"input_tokens": 3, "output_tokens": 5}
	}`
	out, err := AnthropicToOpenAIResponse(context.Background(), "", []byte(input))
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	require.Equal(t, "chat.completion", root.Get("object").String())
	require.Equal(t, "msg_1", root.Get("id").String())
	require.Equal(t, "hi there", root.Get("choices.0.message.content").String())
	require.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	require.EqualValues(t, 8, root.Get("usage.total_tokens").Int())
}

func TestAnthropicToOpenAIResponsePassesThroughErrors(t *testing.T) {
	input := `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`
	out, err := AnthropicToOpenAIResponse(context.Background(), "", []byte(input))
	require.NoError(t, err)
	require.JSONEq(t, input, string(out))
}

func TestAnthropicToOpenAIResponseMapsToolUseStopReason(t *testing.T) {
	input := `{
		"id": "msg_2",
		"stop_reason": "tool_use",
		"content": [{"type": "tool_use", "id": "call1", "name": "lookup", "input": {"q": "y"}}]
	}`
	out, err := AnthropicToOpenAIResponse(context.Background(), "", []byte(input))
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	require.Equal(t, "tool_calls", root.Get("choices.0.finish_reason").String())
	require.Equal(t, "lookup", root.Get("choices.0.message.tool_calls.0.function.name").String())

	var args map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(root.Get("choices.0.message.tool_calls.0.function.arguments").String()), &args))
	require.Equal(t, "y", args["q"])
}

func TestOpenAIToAnthropicRequestLiftsSystemMessage(t *testing.T) {
	input := `{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hi"}
		]
	}`
	out := OpenAIToAnthropicRequest("", []byte(input), false)
	root := gjson.ParseBytes(out)

	require.Equal(t, "be terse", root.Get("system").String())
	require.Equal(t, "user", root.Get("messages.0.role").String())
	require.EqualValues(t, 4096, root.Get("max_tokens").Int())
}

func TestOpenAIToAnthropicResponseConvertsToolCalls(t *testing.T) {
	input := `{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"choices": [{
			"finish_reason": "tool_calls",
			"message": {"role": "assistant", "tool_calls": [{"id": "call1", "function": {"name": "lookup", "arguments": "{\"q\":\"z\"}"}}]}
		}],
		"usage": {"prompt_tokens": 2, "completion_tokens": 4}
	}`
	out, err := OpenAIToAnthropicResponse(context.Background(), "", []byte(input))
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	require.Equal(t, "message", root.Get("type").String())
	require.Equal(t, "tool_use", root.Get("stop_reason").String())
	require.Equal(t, "lookup", root.Get("content.0.name").String())
	require.EqualValues(t, 2, root.Get("usage.input_tokens").Int())
}

func TestOpenAIToAnthropicResponsePassesThroughWhenNoChoices(t *testing.T) {
	input := `{"error":{"message":"bad request"}}`
	out, err := OpenAIToAnthropicResponse(context.Background(), "", []byte(input))
	require.NoError(t, err)
	require.JSONEq(t, input, string(out))
}
