package canonical

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeGeminiRequest parses a Gemini generateContent request body into
// the canonical shape. Grounded on the field layout used by
// internal/client/gemini/* (contents[].role/parts, systemInstruction,
// generationConfig, tools[].functionDeclarations).
func DecodeGeminiRequest(raw []byte) Request {
	r := Request{}
	root := gjson.ParseBytes(raw)
	r.MaxTokens = root.Get("generationConfig.maxOutputTokens").Int()
	if t := root.Get("generationConfig.temperature"); t.Exists() {
		v := t.Float()
		r.Temperature = &v
	}
	for _, part := range root.Get("systemInstruction.parts").Array() {
		r.System += part.Get("text").String()
	}
	for _, c := range root.Get("contents").Array() {
		r.Messages = append(r.Messages, decodeGeminiContent(c))
	}
	for _, tl := range root.Get("tools").Array() {
		for _, fd := range tl.Get("functionDeclarations").Array() {
			r.Tools = append(r.Tools, ToolDef{
				Name:        fd.Get("name").String(),
				Description: fd.Get("description").String(),
				Parameters:  json.RawMessage(fd.Get("parameters").Raw),
			})
		}
	}
	return r
}

func decodeGeminiContent(c gjson.Result) Message {
	role := RoleUser
	if c.Get("role").String() == "model" {
		role = RoleAssistant
	}
	msg := Message{Role: role}
	for i, p := range c.Get("parts").Array() {
		msg.Content = append(msg.Content, decodeGeminiPart(p, i))
	}
	return msg
}

func decodeGeminiPart(p gjson.Result, idx int) Block {
	if fc := p.Get("functionCall"); fc.Exists() {
		return Block{Type: BlockToolUse, Index: idx, ToolName: fc.Get("name").String(), ToolInput: json.RawMessage(fc.Get("args").Raw)}
	}
	if fr := p.Get("functionResponse"); fr.Exists() {
		return Block{Type: BlockToolResult, Index: idx, ToolName: fr.Get("name").String(), ToolOutput: fr.Get("response.content").String()}
	}
	if inline := p.Get("inlineData"); inline.Exists() {
		return Block{Type: BlockImage, Index: idx, ImageMediaType: inline.Get("mimeType").String(), ImageData: inline.Get("data").String()}
	}
	return Block{Type: BlockText, Index: idx, Text: p.Get("text").String()}
}

// EncodeGeminiRequest renders the canonical request as a Gemini
// generateContent body.
func EncodeGeminiRequest(r Request) []byte {
	body := []byte("{}")
	if r.System != "" {
		body, _ = sjson.SetBytes(body, "systemInstruction.parts.0.text", r.System)
	}
	if r.MaxTokens > 0 {
		body, _ = sjson.SetBytes(body, "generationConfig.maxOutputTokens", r.MaxTokens)
	}
	if r.Temperature != nil {
		body, _ = sjson.SetBytes(body, "generationConfig.temperature", *r.Temperature)
	}
	contents := make([]any, 0, len(r.Messages))
	for _, m := range r.Messages {
		contents = append(contents, encodeGeminiContent(m))
	}
	body, _ = sjson.SetBytes(body, "contents", contents)
	if len(r.Tools) > 0 {
		decls := make([]any, 0, len(r.Tools))
		for _, t := range r.Tools {
			decls = append(decls, map[string]any{"name": t.Name, "description": t.Description, "parameters": rawOrEmptyObject(t.Parameters)})
		}
		body, _ = sjson.SetBytes(body, "tools", []any{map[string]any{"functionDeclarations": decls}})
	}
	return body
}

func encodeGeminiContent(m Message) map[string]any {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	parts := make([]any, 0, len(m.Content))
	for _, b := range m.Content {
		parts = append(parts, encodeGeminiPart(b))
	}
	return map[string]any{"role": role, "parts": parts}
}

func encodeGeminiPart(b Block) map[string]any {
	switch b.Type {
	case BlockToolUse:
		return map[string]any{"functionCall": map[string]any{"name": b.ToolName, "args": rawOrEmptyObject(b.ToolInput)}}
	case BlockToolResult:
		return map[string]any{"functionResponse": map[string]any{"name": b.ToolName, "response": map[string]any{"content": b.ToolOutput}}}
	case BlockImage:
		return map[string]any{"inlineData": map[string]any{"mimeType": b.ImageMediaType, "data": b.ImageData}}
	default:
		return map[string]any{"text": b.Text}
	}
}

// DecodeGeminiResponse parses a non-stream generateContent response.
func DecodeGeminiResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	cand := root.Get("candidates.0")
	resp := Response{StopReason: geminiFinishReason(cand.Get("finishReason").String())}
	for i, p := range cand.Get("content.parts").Array() {
		resp.Content = append(resp.Content, decodeGeminiPart(p, i))
	}
	resp.Usage = Usage{
		InputTokens:  root.Get("usageMetadata.promptTokenCount").Int(),
		OutputTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
		CachedTokens: root.Get("usageMetadata.cachedContentTokenCount").Int(),
	}
	return resp
}

func geminiFinishReason(s string) StopReason {
	switch s {
	case "MAX_TOKENS":
		return StopMaxTokens
	case "SAFETY", "RECITATION":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}

func geminiFinishReasonString(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "MAX_TOKENS"
	case StopContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// EncodeGeminiResponse renders the canonical response as a
// generateContent response. Gemini has no direct "tool_use" stop
// reason; a response ending in a function call is still reported STOP,
// matching native Gemini behavior.
func EncodeGeminiResponse(r Response) []byte {
	body := []byte(`{"candidates":[{"index":0,"content":{"role":"model"}}]}`)
	parts := make([]any, 0, len(r.Content))
	for _, b := range r.Content {
		parts = append(parts, encodeGeminiPart(b))
	}
	body, _ = sjson.SetBytes(body, "candidates.0.content.parts", parts)
	body, _ = sjson.SetBytes(body, "candidates.0.finishReason", geminiFinishReasonString(r.StopReason))
	body, _ = sjson.SetBytes(body, "usageMetadata.promptTokenCount", r.Usage.InputTokens)
	body, _ = sjson.SetBytes(body, "usageMetadata.candidatesTokenCount", r.Usage.OutputTokens)
	body, _ = sjson.SetBytes(body, "usageMetadata.totalTokenCount", r.Usage.InputTokens+r.Usage.OutputTokens)
	return body
}
