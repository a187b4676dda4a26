package canonical

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeOpenAIResponsesRequest parses an OpenAI /v1/responses request
// body into the canonical shape. The Responses schema is considerably
// richer than chat-completions (typed input items, reasoning params,
// built-in tools); this covers the subset the generate-protocol matrix
// actually exercises: plain text input items, function tools, and
// instructions-as-system. Every content part of a message item is read
// as text; image parts are not decoded as images.
func DecodeOpenAIResponsesRequest(raw []byte) Request {
	r := Request{}
	root := gjson.ParseBytes(raw)
	r.Model = root.Get("model").String()
	r.Stream = root.Get("stream").Bool()
	r.MaxTokens = root.Get("max_output_tokens").Int()
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		r.Temperature = &v
	}
	r.System = root.Get("instructions").String()
	input := root.Get("input")
	if input.Type == gjson.String {
		r.Messages = append(r.Messages, Message{Role: RoleUser, Content: []Block{{Type: BlockText, Text: input.String()}}})
	} else {
		for _, item := range input.Array() {
			r.Messages = append(r.Messages, decodeResponsesItem(item))
		}
	}
	for _, tl := range root.Get("tools").Array() {
		if tl.Get("type").String() != "function" {
			continue
		}
		r.Tools = append(r.Tools, ToolDef{
			Name:        tl.Get("name").String(),
			Description: tl.Get("description").String(),
			Parameters:  json.RawMessage(tl.Get("parameters").Raw),
		})
	}
	return r
}

func decodeResponsesItem(item gjson.Result) Message {
	switch item.Get("type").String() {
	case "function_call":
		return Message{Role: RoleAssistant, Content: []Block{{
			Type: BlockToolUse, ToolUseID: item.Get("call_id").String(),
			ToolName: item.Get("name").String(), ToolInput: json.RawMessage(item.Get("arguments").String()),
		}}}
	case "function_call_output":
		return Message{Role: RoleTool, Content: []Block{{
			Type: BlockToolResult, ToolUseID: item.Get("call_id").String(), ToolOutput: item.Get("output").String(),
		}}}
	default:
		role := RoleUser
		if item.Get("role").String() == "assistant" {
			role = RoleAssistant
		}
		msg := Message{Role: role}
		for i, c := range item.Get("content").Array() {
			msg.Content = append(msg.Content, Block{Type: BlockText, Index: i, Text: c.Get("text").String()})
		}
		return msg
	}
}

// EncodeOpenAIResponsesRequest renders the canonical request as an
// OpenAI /v1/responses body.
func EncodeOpenAIResponsesRequest(r Request) []byte {
	body := []byte("{}")
	body, _ = sjson.SetBytes(body, "model", r.Model)
	body, _ = sjson.SetBytes(body, "stream", r.Stream)
	if r.System != "" {
		body, _ = sjson.SetBytes(body, "instructions", r.System)
	}
	if r.MaxTokens > 0 {
		body, _ = sjson.SetBytes(body, "max_output_tokens", r.MaxTokens)
	}
	if r.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *r.Temperature)
	}
	var items []any
	for _, m := range r.Messages {
		items = append(items, encodeResponsesItems(m)...)
	}
	body, _ = sjson.SetBytes(body, "input", items)
	if len(r.Tools) > 0 {
		tools := make([]any, 0, len(r.Tools))
		for _, t := range r.Tools {
			tools = append(tools, map[string]any{"type": "function", "name": t.Name, "description": t.Description, "parameters": rawOrEmptyObject(t.Parameters)})
		}
		body, _ = sjson.SetBytes(body, "tools", tools)
	}
	return body
}

func encodeResponsesItems(m Message) []any {
	var out []any
	var text []map[string]any
	for _, b := range m.Content {
		switch b.Type {
		case BlockToolUse:
			out = append(out, map[string]any{"type": "function_call", "call_id": b.ToolUseID, "name": b.ToolName, "arguments": string(b.ToolInput)})
		case BlockToolResult:
			out = append(out, map[string]any{"type": "function_call_output", "call_id": b.ToolUseID, "output": b.ToolOutput})
		default:
			kind := "input_text"
			if m.Role == RoleAssistant {
				kind = "output_text"
			}
			text = append(text, map[string]any{"type": kind, "text": b.Text})
		}
	}
	if len(text) > 0 {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append([]any{map[string]any{"role": role, "content": text}}, out...)
	}
	return out
}

// DecodeOpenAIResponsesResponse parses a non-stream /v1/responses
// response object (the `response` field of ResponseCompleted, or a
// direct non-stream POST result).
func DecodeOpenAIResponsesResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	resp := Response{Model: root.Get("model").String(), StopReason: responsesStopReason(root.Get("status").String())}
	for i, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "function_call":
			resp.Content = append(resp.Content, Block{
				Type: BlockToolUse, Index: i, ToolUseID: item.Get("call_id").String(),
				ToolName: item.Get("name").String(), ToolInput: json.RawMessage(item.Get("arguments").String()),
			})
		case "message":
			for _, c := range item.Get("content").Array() {
				resp.Content = append(resp.Content, Block{Type: BlockText, Index: i, Text: c.Get("text").String()})
			}
		}
	}
	resp.Usage = Usage{
		InputTokens:     root.Get("usage.input_tokens").Int(),
		OutputTokens:    root.Get("usage.output_tokens").Int(),
		CachedTokens:    root.Get("usage.input_tokens_details.cached_tokens").Int(),
		ReasoningTokens: root.Get("usage.output_tokens_details.reasoning_tokens").Int(),
	}
	return resp
}

func responsesStopReason(status string) StopReason {
	switch status {
	case "incomplete":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// EncodeOpenAIResponsesResponse renders the canonical response as a
// /v1/responses response object.
func EncodeOpenAIResponsesResponse(r Response) []byte {
	body := []byte(`{"object":"response","status":"completed"}`)
	body, _ = sjson.SetBytes(body, "model", r.Model)
	if r.StopReason == StopMaxTokens {
		body, _ = sjson.SetBytes(body, "status", "incomplete")
	}
	var output []any
	var textParts []map[string]any
	idx := 0
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			output = append(output, map[string]any{"type": "function_call", "call_id": b.ToolUseID, "name": b.ToolName, "arguments": string(b.ToolInput)})
			continue
		}
		textParts = append(textParts, map[string]any{"type": "output_text", "text": b.Text})
		idx++
	}
	if len(textParts) > 0 {
		output = append([]any{map[string]any{"type": "message", "role": "assistant", "content": textParts}}, output...)
	}
	body, _ = sjson.SetBytes(body, "output", output)
	body, _ = sjson.SetBytes(body, "usage.input_tokens", r.Usage.InputTokens)
	body, _ = sjson.SetBytes(body, "usage.output_tokens", r.Usage.OutputTokens)
	body, _ = sjson.SetBytes(body, "usage.total_tokens", r.Usage.InputTokens+r.Usage.OutputTokens)
	return body
}
