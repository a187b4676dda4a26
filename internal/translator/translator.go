// Package translator is the protocol transform layer (C6): it converts
// generate requests/responses between the four downstream wire protocols
// and converts the lighter basic ops (ModelList, ModelGet, CountTokens)
// between Claude, OpenAI, and Gemini. Grounded on
// translator/translator/translator.go's registry shape: a table keyed by
// (source, target) returning a conversion function, looked up once per
// request instead of growing a combinatorial switch.
package translator

import (
	"fmt"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/translator/canonical"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// NeedConvert reports whether src and dst differ, matching
// translator.go's guard so identity pairs skip the convert step entirely
// (spec §4.4's "Identity transform" property).
func NeedConvert(src, dst model.Protocol) bool {
	return src != dst
}

func decodeGenerateRequest(proto model.Protocol, raw []byte) (canonical.Request, error) {
	switch proto {
	case model.ProtocolClaude:
		return canonical.DecodeClaudeRequest(raw), nil
	case model.ProtocolOpenAIChat:
		return canonical.DecodeOpenAIChatRequest(raw), nil
	case model.ProtocolOpenAIResponse:
		return canonical.DecodeOpenAIResponsesRequest(raw), nil
	case model.ProtocolGemini:
		return canonical.DecodeGeminiRequest(raw), nil
	default:
		return canonical.Request{}, fmt.Errorf("translator: no request decoder for protocol %q", proto)
	}
}

func encodeGenerateRequest(proto model.Protocol, r canonical.Request) ([]byte, error) {
	switch proto {
	case model.ProtocolClaude:
		return canonical.EncodeClaudeRequest(r), nil
	case model.ProtocolOpenAIChat:
		return canonical.EncodeOpenAIChatRequest(r), nil
	case model.ProtocolOpenAIResponse:
		return canonical.EncodeOpenAIResponsesRequest(r), nil
	case model.ProtocolGemini:
		return canonical.EncodeGeminiRequest(r), nil
	default:
		return nil, fmt.Errorf("translator: no request encoder for protocol %q", proto)
	}
}

func decodeGenerateResponse(proto model.Protocol, raw []byte) (canonical.Response, error) {
	switch proto {
	case model.ProtocolClaude:
		return canonical.DecodeClaudeResponse(raw), nil
	case model.ProtocolOpenAIChat:
		return canonical.DecodeOpenAIChatResponse(raw), nil
	case model.ProtocolOpenAIResponse:
		return canonical.DecodeOpenAIResponsesResponse(raw), nil
	case model.ProtocolGemini:
		return canonical.DecodeGeminiResponse(raw), nil
	default:
		return canonical.Response{}, fmt.Errorf("translator: no response decoder for protocol %q", proto)
	}
}

func encodeGenerateResponse(proto model.Protocol, r canonical.Response) ([]byte, error) {
	switch proto {
	case model.ProtocolClaude:
		return canonical.EncodeClaudeResponse(r), nil
	case model.ProtocolOpenAIChat:
		return canonical.EncodeOpenAIChatResponse(r), nil
	case model.ProtocolOpenAIResponse:
		return canonical.EncodeOpenAIResponsesResponse(r), nil
	case model.ProtocolGemini:
		return canonical.EncodeGeminiResponse(r), nil
	default:
		return nil, fmt.Errorf("translator: no response encoder for protocol %q", proto)
	}
}

// ConvertRequest converts a generate request body from src to dst. If
// src == dst it returns raw unchanged (identity).
func ConvertRequest(src, dst model.Protocol, raw []byte) ([]byte, error) {
	if !NeedConvert(src, dst) {
		return raw, nil
	}
	canon, err := decodeGenerateRequest(src, raw)
	if err != nil {
		return nil, err
	}
	out, err := encodeGenerateRequest(dst, canon)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertResponse converts a non-stream generate response body from src
// to dst.
func ConvertResponse(src, dst model.Protocol, raw []byte) ([]byte, error) {
	if !NeedConvert(src, dst) {
		return raw, nil
	}
	canon, err := decodeGenerateResponse(src, raw)
	if err != nil {
		return nil, err
	}
	out, err := encodeGenerateResponse(dst, canon)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeCanonicalRequest exposes the src->canonical half for callers
// (the streaming pipeline) that need the intermediate form rather than a
// fully encoded destination body.
func DecodeCanonicalRequest(src model.Protocol, raw []byte) (canonical.Request, error) {
	return decodeGenerateRequest(src, raw)
}

// EncodeCanonicalRequest exposes the canonical->dst half.
func EncodeCanonicalRequest(dst model.Protocol, r canonical.Request) ([]byte, error) {
	return encodeGenerateRequest(dst, r)
}

// DecodeCanonicalResponse exposes the src->canonical half for responses.
func DecodeCanonicalResponse(src model.Protocol, raw []byte) (canonical.Response, error) {
	return decodeGenerateResponse(src, raw)
}

// EncodeCanonicalResponse exposes the canonical->dst half for responses.
func EncodeCanonicalResponse(dst model.Protocol, r canonical.Response) ([]byte, error) {
	return encodeGenerateResponse(dst, r)
}

// basicProtocols is the set that ModelList/ModelGet/CountTokens convert
// between; these don't need the canonical hub since the three schemas
// are each a handful of scalar fields (spec §4.4's lighter basic-op
// transforms).
var basicProtocols = map[model.Protocol]bool{
	model.ProtocolClaude: true,
	model.ProtocolOpenAI: true,
	model.ProtocolGemini: true,
}

// ConvertModelList converts a ModelList response between Claude, OpenAI,
// and Gemini's list-models shapes.
func ConvertModelList(src, dst model.Protocol, raw []byte) ([]byte, error) {
	if !NeedConvert(src, dst) {
		return raw, nil
	}
	if !basicProtocols[src] || !basicProtocols[dst] {
		return nil, fmt.Errorf("translator: ModelList not supported for %q->%q", src, dst)
	}
	type modelEntry struct {
		id      string
		created int64
	}
	var entries []modelEntry
	root := gjson.ParseBytes(raw)
	switch src {
	case model.ProtocolClaude:
		for _, m := range root.Get("data").Array() {
			entries = append(entries, modelEntry{id: m.Get("id").String()})
		}
	case model.ProtocolOpenAI:
		for _, m := range root.Get("data").Array() {
			entries = append(entries, modelEntry{id: m.Get("id").String(), created: m.Get("created").Int()})
		}
	case model.ProtocolGemini:
		for _, m := range root.Get("models").Array() {
			name := m.Get("name").String()
			entries = append(entries, modelEntry{id: name})
		}
	}
	out := []byte("{}")
	switch dst {
	case model.ProtocolClaude:
		list := make([]any, 0, len(entries))
		for _, e := range entries {
			list = append(list, map[string]any{"id": e.id, "type": "model"})
		}
		out, _ = sjson.SetBytes(out, "data", list)
	case model.ProtocolOpenAI:
		list := make([]any, 0, len(entries))
		for _, e := range entries {
			list = append(list, map[string]any{"id": e.id, "object": "model", "created": e.created})
		}
		out, _ = sjson.SetBytes(out, "object", "list")
		out, _ = sjson.SetBytes(out, "data", list)
	case model.ProtocolGemini:
		list := make([]any, 0, len(entries))
		for _, e := range entries {
			list = append(list, map[string]any{"name": e.id})
		}
		out, _ = sjson.SetBytes(out, "models", list)
	}
	return out, nil
}

// ConvertCountTokensResponse converts a CountTokens response between
// Claude, OpenAI, and Gemini's token-counting shapes. Requests go
// through the generate-request canonical path (it's the same
// messages/system/tools payload); only the response is protocol-bare
// enough to handle directly.
func ConvertCountTokensResponse(src, dst model.Protocol, raw []byte) ([]byte, error) {
	if !NeedConvert(src, dst) {
		return raw, nil
	}
	if !basicProtocols[src] || !basicProtocols[dst] {
		return nil, fmt.Errorf("translator: CountTokens not supported for %q->%q", src, dst)
	}
	root := gjson.ParseBytes(raw)
	var count int64
	switch src {
	case model.ProtocolClaude:
		count = root.Get("input_tokens").Int()
	case model.ProtocolOpenAI:
		count = root.Get("input_tokens").Int()
	case model.ProtocolGemini:
		count = root.Get("totalTokens").Int()
	}
	out := []byte("{}")
	switch dst {
	case model.ProtocolClaude, model.ProtocolOpenAI:
		out, _ = sjson.SetBytes(out, "input_tokens", count)
	case model.ProtocolGemini:
		out, _ = sjson.SetBytes(out, "totalTokens", count)
	}
	return out, nil
}

// basicProtocol normalizes a generate protocol to the bare protocol its
// CountTokens/ModelList/ModelGet response uses (OpenAI-Chat and
// OpenAI-Responses share one basic-op wire shape).
func basicProtocol(proto model.Protocol) model.Protocol {
	if proto == model.ProtocolOpenAIChat || proto == model.ProtocolOpenAIResponse {
		return model.ProtocolOpenAI
	}
	return proto
}

// ParseCountTokensCount extracts the input-token count from a native
// CountTokens response, for callers (the engine's §4.8 usage fallback)
// that need the bare number rather than a converted response body.
func ParseCountTokensCount(proto model.Protocol, raw []byte) int64 {
	root := gjson.ParseBytes(raw)
	if basicProtocol(proto) == model.ProtocolGemini {
		return root.Get("totalTokens").Int()
	}
	return root.Get("input_tokens").Int()
}
