package errors

import "encoding/json"

// ExtractUpstreamMessage pulls the human-readable message out of an
// upstream error body (OpenAI/Anthropic/Gemini all nest it under
// error.message), falling back to a truncated raw dump when the body
// isn't JSON shaped that way.
func ExtractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var jsonErr map[string]interface{}
	if err := json.Unmarshal(body, &jsonErr); err == nil {
		if errObj, ok := jsonErr["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}
