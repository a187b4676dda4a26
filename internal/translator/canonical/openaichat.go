package canonical

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeOpenAIChatRequest parses an OpenAI /v1/chat/completions request
// body into the canonical shape. Grounded on
// internal/translator/claude/openai/claude_openai_request.go's reverse
// mapping (messages[].role/content, tool_calls, tools, max_tokens).
func DecodeOpenAIChatRequest(raw []byte) Request {
	r := Request{}
	root := gjson.ParseBytes(raw)
	r.Model = root.Get("model").String()
	r.Stream = root.Get("stream").Bool()
	r.MaxTokens = root.Get("max_completion_tokens").Int()
	if r.MaxTokens == 0 {
		r.MaxTokens = root.Get("max_tokens").Int()
	}
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		r.Temperature = &v
	}
	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		if role == "system" {
			r.System += m.Get("content").String()
			continue
		}
		r.Messages = append(r.Messages, decodeOpenAIChatMessage(m))
	}
	for _, tl := range root.Get("tools").Array() {
		r.Tools = append(r.Tools, ToolDef{
			Name:        tl.Get("function.name").String(),
			Description: tl.Get("function.description").String(),
			Parameters:  json.RawMessage(tl.Get("function.parameters").Raw),
		})
	}
	return r
}

func decodeOpenAIChatMessage(m gjson.Result) Message {
	role := RoleUser
	switch m.Get("role").String() {
	case "assistant":
		role = RoleAssistant
	case "tool":
		role = RoleTool
	}
	msg := Message{Role: role}
	if role == RoleTool {
		msg.Content = []Block{{Type: BlockToolResult, ToolUseID: m.Get("tool_call_id").String(), ToolOutput: m.Get("content").String()}}
		return msg
	}
	content := m.Get("content")
	if content.Type == gjson.String {
		if content.String() != "" {
			msg.Content = append(msg.Content, Block{Type: BlockText, Text: content.String()})
		}
	} else if content.IsArray() {
		for i, part := range content.Array() {
			switch part.Get("type").String() {
			case "image_url":
				msg.Content = append(msg.Content, Block{Type: BlockImage, Index: i, ImageData: part.Get("image_url.url").String()})
			default:
				msg.Content = append(msg.Content, Block{Type: BlockText, Index: i, Text: part.Get("text").String()})
			}
		}
	}
	for i, tc := range m.Get("tool_calls").Array() {
		msg.Content = append(msg.Content, Block{
			Type:      BlockToolUse,
			Index:     i,
			ToolUseID: tc.Get("id").String(),
			ToolName:  tc.Get("function.name").String(),
			ToolInput: json.RawMessage(tc.Get("function.arguments").String()),
		})
	}
	return msg
}

// EncodeOpenAIChatRequest renders the canonical request as an OpenAI
// /v1/chat/completions body.
func EncodeOpenAIChatRequest(r Request) []byte {
	body := []byte("{}")
	body, _ = sjson.SetBytes(body, "model", r.Model)
	body, _ = sjson.SetBytes(body, "stream", r.Stream)
	if r.MaxTokens > 0 {
		body, _ = sjson.SetBytes(body, "max_tokens", r.MaxTokens)
	}
	if r.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *r.Temperature)
	}
	msgs := make([]any, 0, len(r.Messages)+1)
	if r.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": r.System})
	}
	for _, m := range r.Messages {
		msgs = append(msgs, encodeOpenAIChatMessage(m)...)
	}
	body, _ = sjson.SetBytes(body, "messages", msgs)
	if len(r.Tools) > 0 {
		tools := make([]any, 0, len(r.Tools))
		for _, t := range r.Tools {
			tools = append(tools, map[string]any{"type": "function", "function": map[string]any{
				"name": t.Name, "description": t.Description, "parameters": rawOrEmptyObject(t.Parameters),
			}})
		}
		body, _ = sjson.SetBytes(body, "tools", tools)
	}
	return body
}

// encodeOpenAIChatMessage can expand to multiple OpenAI messages: Claude
// tool_result blocks become their own "tool" role messages, which OpenAI
// chat requires to be separate from the assistant/user turn.
func encodeOpenAIChatMessage(m Message) []any {
	role := "user"
	if m.Role == RoleAssistant {
		role = "assistant"
	}
	var out []any
	var textParts []string
	var toolCalls []any
	for _, b := range m.Content {
		switch b.Type {
		case BlockToolResult:
			out = append(out, map[string]any{"role": "tool", "tool_call_id": b.ToolUseID, "content": b.ToolOutput})
		case BlockToolUse:
			toolCalls = append(toolCalls, map[string]any{
				"id": b.ToolUseID, "type": "function",
				"function": map[string]any{"name": b.ToolName, "arguments": string(b.ToolInput)},
			})
		case BlockImage:
			textParts = append(textParts, b.ImageData)
		default:
			textParts = append(textParts, b.Text)
		}
	}
	if len(textParts) > 0 || len(toolCalls) > 0 {
		msg := map[string]any{"role": role}
		if len(textParts) > 0 {
			content := ""
			for _, t := range textParts {
				content += t
			}
			msg["content"] = content
		} else {
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		out = append([]any{msg}, out...)
	}
	return out
}

// DecodeOpenAIChatResponse parses a non-stream chat completion response.
func DecodeOpenAIChatResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	choice := root.Get("choices.0")
	resp := Response{Model: root.Get("model").String(), StopReason: openAIFinishReason(choice.Get("finish_reason").String())}
	msg := choice.Get("message")
	if txt := msg.Get("content"); txt.Exists() && txt.Type == gjson.String {
		resp.Content = append(resp.Content, Block{Type: BlockText, Text: txt.String()})
	}
	for i, tc := range msg.Get("tool_calls").Array() {
		resp.Content = append(resp.Content, Block{
			Type: BlockToolUse, Index: i + 1,
			ToolUseID: tc.Get("id").String(), ToolName: tc.Get("function.name").String(),
			ToolInput: json.RawMessage(tc.Get("function.arguments").String()),
		})
	}
	resp.Usage = Usage{
		InputTokens:  root.Get("usage.prompt_tokens").Int(),
		OutputTokens: root.Get("usage.completion_tokens").Int(),
		CachedTokens: root.Get("usage.prompt_tokens_details.cached_tokens").Int(),
	}
	return resp
}

func openAIFinishReason(s string) StopReason {
	switch s {
	case "length":
		return StopMaxTokens
	case "tool_calls":
		return StopToolUse
	case "stop":
		return StopEndTurn
	case "content_filter":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}

func openAIFinishReasonString(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	case StopContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// EncodeOpenAIChatResponse renders the canonical response as a
// chat-completion object.
func EncodeOpenAIChatResponse(r Response) []byte {
	body := []byte(`{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`)
	body, _ = sjson.SetBytes(body, "model", r.Model)
	body, _ = sjson.SetBytes(body, "choices.0.finish_reason", openAIFinishReasonString(r.StopReason))
	var text string
	var toolCalls []any
	for _, b := range r.Content {
		switch b.Type {
		case BlockToolUse:
			toolCalls = append(toolCalls, map[string]any{
				"id": b.ToolUseID, "type": "function",
				"function": map[string]any{"name": b.ToolName, "arguments": string(b.ToolInput)},
			})
		default:
			text += b.Text
		}
	}
	if text != "" || len(toolCalls) == 0 {
		body, _ = sjson.SetBytes(body, "choices.0.message.content", text)
	}
	if len(toolCalls) > 0 {
		body, _ = sjson.SetBytes(body, "choices.0.message.tool_calls", toolCalls)
	}
	body, _ = sjson.SetBytes(body, "usage.prompt_tokens", r.Usage.InputTokens)
	body, _ = sjson.SetBytes(body, "usage.completion_tokens", r.Usage.OutputTokens)
	body, _ = sjson.SetBytes(body, "usage.total_tokens", r.Usage.InputTokens+r.Usage.OutputTokens)
	return body
}
