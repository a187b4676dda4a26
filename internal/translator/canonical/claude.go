package canonical

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeClaudeRequest parses a Claude /v1/messages request body into the
// canonical shape. Grounded on
// internal/translator/openai/claude/openai_claude_request.go's field
// reads via gjson (model, system, messages[].role/content, tools,
// max_tokens, stream).
func DecodeClaudeRequest(raw []byte) Request {
	r := Request{}
	root := gjson.ParseBytes(raw)
	r.Model = root.Get("model").String()
	r.Stream = root.Get("stream").Bool()
	r.MaxTokens = root.Get("max_tokens").Int()
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		r.Temperature = &v
	}
	if root.Get("system").Type == gjson.String {
		r.System = root.Get("system").String()
	} else if root.Get("system").IsArray() {
		for _, blk := range root.Get("system").Array() {
			r.System += blk.Get("text").String()
		}
	}
	for _, m := range root.Get("messages").Array() {
		r.Messages = append(r.Messages, decodeClaudeMessage(m))
	}
	for _, tl := range root.Get("tools").Array() {
		r.Tools = append(r.Tools, ToolDef{
			Name:        tl.Get("name").String(),
			Description: tl.Get("description").String(),
			Parameters:  json.RawMessage(tl.Get("input_schema").Raw),
		})
	}
	return r
}

func decodeClaudeMessage(m gjson.Result) Message {
	msg := Message{Role: Role(m.Get("role").String())}
	content := m.Get("content")
	if content.Type == gjson.String {
		msg.Content = []Block{{Type: BlockText, Text: content.String()}}
		return msg
	}
	for i, c := range content.Array() {
		msg.Content = append(msg.Content, decodeClaudeBlock(c, i))
	}
	return msg
}

func decodeClaudeBlock(c gjson.Result, idx int) Block {
	switch c.Get("type").String() {
	case "tool_use":
		return Block{Type: BlockToolUse, Index: idx, ToolUseID: c.Get("id").String(), ToolName: c.Get("name").String(), ToolInput: json.RawMessage(c.Get("input").Raw)}
	case "tool_result":
		out := c.Get("content")
		text := out.String()
		if out.IsArray() {
			text = ""
			for _, b := range out.Array() {
				text += b.Get("text").String()
			}
		}
		return Block{Type: BlockToolResult, Index: idx, ToolUseID: c.Get("tool_use_id").String(), ToolOutput: text, ToolIsError: c.Get("is_error").Bool()}
	case "image":
		return Block{Type: BlockImage, Index: idx, ImageMediaType: c.Get("source.media_type").String(), ImageData: c.Get("source.data").String()}
	case "thinking":
		return Block{Type: BlockThinking, Index: idx, Text: c.Get("thinking").String()}
	default:
		return Block{Type: BlockText, Index: idx, Text: c.Get("text").String()}
	}
}

// EncodeClaudeRequest renders the canonical request as a Claude
// /v1/messages body.
func EncodeClaudeRequest(r Request) []byte {
	body := []byte("{}")
	body, _ = sjson.SetBytes(body, "model", r.Model)
	body, _ = sjson.SetBytes(body, "stream", r.Stream)
	maxTokens := r.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body, _ = sjson.SetBytes(body, "max_tokens", maxTokens)
	if r.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *r.Temperature)
	}
	if r.System != "" {
		body, _ = sjson.SetBytes(body, "system", r.System)
	}
	msgs := make([]any, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, encodeClaudeMessage(m))
	}
	body, _ = sjson.SetBytes(body, "messages", msgs)
	if len(r.Tools) > 0 {
		tools := make([]any, 0, len(r.Tools))
		for _, t := range r.Tools {
			tools = append(tools, map[string]any{"name": t.Name, "description": t.Description, "input_schema": rawOrEmptyObject(t.Parameters)})
		}
		body, _ = sjson.SetBytes(body, "tools", tools)
	}
	return body
}

func encodeClaudeMessage(m Message) map[string]any {
	content := make([]any, 0, len(m.Content))
	for _, b := range m.Content {
		content = append(content, encodeClaudeBlock(b))
	}
	return map[string]any{"role": string(m.Role), "content": content}
}

func encodeClaudeBlock(b Block) map[string]any {
	switch b.Type {
	case BlockToolUse:
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": rawOrEmptyObject(b.ToolInput)}
	case BlockToolResult:
		return map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": b.ToolOutput, "is_error": b.ToolIsError}
	case BlockImage:
		return map[string]any{"type": "image", "source": map[string]any{"type": "base64", "media_type": b.ImageMediaType, "data": b.ImageData}}
	case BlockThinking:
		return map[string]any{"type": "thinking", "thinking": b.Text}
	default:
		return map[string]any{"type": "text", "text": b.Text}
	}
}

func rawOrEmptyObject(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

// DecodeClaudeResponse parses a non-stream Claude /v1/messages response.
func DecodeClaudeResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	resp := Response{Model: root.Get("model").String(), StopReason: claudeStopReason(root.Get("stop_reason").String())}
	for i, c := range root.Get("content").Array() {
		resp.Content = append(resp.Content, decodeClaudeBlock(c, i))
	}
	resp.Usage = Usage{
		InputTokens:         root.Get("usage.input_tokens").Int(),
		OutputTokens:        root.Get("usage.output_tokens").Int(),
		CacheCreationTokens: root.Get("usage.cache_creation_input_tokens").Int(),
		CacheReadTokens:     root.Get("usage.cache_read_input_tokens").Int(),
	}
	return resp
}

func claudeStopReason(s string) StopReason {
	switch s {
	case "max_tokens":
		return StopMaxTokens
	case "tool_use":
		return StopToolUse
	case "stop_sequence":
		return StopStopSeq
	default:
		return StopEndTurn
	}
}

func claudeStopReasonString(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "max_tokens"
	case StopToolUse:
		return "tool_use"
	case StopStopSeq:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// EncodeClaudeResponse renders the canonical response as a Claude
// /v1/messages non-stream response.
func EncodeClaudeResponse(r Response) []byte {
	body := []byte(`{"type":"message","role":"assistant"}`)
	body, _ = sjson.SetBytes(body, "model", r.Model)
	body, _ = sjson.SetBytes(body, "stop_reason", claudeStopReasonString(r.StopReason))
	content := make([]any, 0, len(r.Content))
	for _, b := range r.Content {
		content = append(content, encodeClaudeBlock(b))
	}
	body, _ = sjson.SetBytes(body, "content", content)
	body, _ = sjson.SetBytes(body, "usage.input_tokens", r.Usage.InputTokens)
	body, _ = sjson.SetBytes(body, "usage.output_tokens", r.Usage.OutputTokens)
	if r.Usage.CacheCreationTokens > 0 {
		body, _ = sjson.SetBytes(body, "usage.cache_creation_input_tokens", r.Usage.CacheCreationTokens)
	}
	if r.Usage.CacheReadTokens > 0 {
		body, _ = sjson.SetBytes(body, "usage.cache_read_input_tokens", r.Usage.CacheReadTokens)
	}
	return body
}
