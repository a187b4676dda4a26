package stream

import (
	"encoding/json"

	"github.com/dfft546/gproxy/internal/translator/canonical"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeClaudeStreamEvent converts one native Claude SSE frame into zero
// or more canonical events. Claude's event sequence is exactly what
// canonical.EventKind models, so this is close to a 1:1 field copy.
func DecodeClaudeStreamEvent(ev SSEEvent) []canonical.Event {
	data := gjson.Parse(ev.Data)
	switch ev.Event {
	case "message_start":
		msg := data.Get("message")
		return []canonical.Event{{
			Kind:  canonical.EventMessageStart,
			Model: msg.Get("model").String(),
			Usage: canonical.Usage{InputTokens: msg.Get("usage.input_tokens").Int()},
		}}
	case "content_block_start":
		block := data.Get("content_block")
		idx := int(data.Get("index").Int())
		return []canonical.Event{{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: decodeClaudeStreamBlockStart(block, idx)}}
	case "content_block_delta":
		idx := int(data.Get("index").Int())
		delta := data.Get("delta")
		switch delta.Get("type").String() {
		case "input_json_delta":
			return []canonical.Event{{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaJSON: delta.Get("partial_json").String()}}
		case "thinking_delta":
			return []canonical.Event{{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaText: delta.Get("thinking").String()}}
		default:
			return []canonical.Event{{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaText: delta.Get("text").String()}}
		}
	case "content_block_stop":
		return []canonical.Event{{Kind: canonical.EventBlockStop, BlockIndex: int(data.Get("index").Int())}}
	case "message_delta":
		return []canonical.Event{{
			Kind:       canonical.EventMessageDelta,
			StopReason: claudeStreamStopReason(data.Get("delta.stop_reason").String()),
			Usage:      canonical.Usage{OutputTokens: data.Get("usage.output_tokens").Int()},
		}}
	case "message_stop":
		return []canonical.Event{{Kind: canonical.EventMessageStop}}
	default:
		return nil
	}
}

func decodeClaudeStreamBlockStart(block gjson.Result, idx int) canonical.Block {
	switch block.Get("type").String() {
	case "tool_use":
		return canonical.Block{Type: canonical.BlockToolUse, Index: idx, ToolUseID: block.Get("id").String(), ToolName: block.Get("name").String()}
	case "thinking":
		return canonical.Block{Type: canonical.BlockThinking, Index: idx}
	default:
		return canonical.Block{Type: canonical.BlockText, Index: idx}
	}
}

func claudeStreamStopReason(s string) canonical.StopReason {
	switch s {
	case "max_tokens":
		return canonical.StopMaxTokens
	case "tool_use":
		return canonical.StopToolUse
	case "stop_sequence":
		return canonical.StopStopSeq
	default:
		return canonical.StopEndTurn
	}
}

// ClaudeStreamEncoder renders canonical events as native Claude SSE
// frames, tracking the running model/usage the way message_delta and
// message_stop frames need.
type ClaudeStreamEncoder struct {
	model string
}

// Encode renders one canonical event as zero or more Claude SSE frames.
func (e *ClaudeStreamEncoder) Encode(ev canonical.Event) []string {
	switch ev.Kind {
	case canonical.EventMessageStart:
		e.model = ev.Model
		body := []byte(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[]}}`)
		body, _ = sjson.SetBytes(body, "message.model", ev.Model)
		body, _ = sjson.SetBytes(body, "message.usage.input_tokens", ev.Usage.InputTokens)
		return []string{EncodeSSE("message_start", string(body))}
	case canonical.EventBlockStart:
		body := []byte(`{"type":"content_block_start"}`)
		body, _ = sjson.SetBytes(body, "index", ev.BlockIndex)
		body, _ = sjson.SetBytes(body, "content_block", encodeClaudeBlockStart(ev.Block))
		return []string{EncodeSSE("content_block_start", string(body))}
	case canonical.EventBlockDelta:
		body := []byte(`{"type":"content_block_delta"}`)
		body, _ = sjson.SetBytes(body, "index", ev.BlockIndex)
		if ev.DeltaJSON != "" {
			body, _ = sjson.SetBytes(body, "delta", map[string]any{"type": "input_json_delta", "partial_json": ev.DeltaJSON})
		} else {
			body, _ = sjson.SetBytes(body, "delta", map[string]any{"type": "text_delta", "text": ev.DeltaText})
		}
		return []string{EncodeSSE("content_block_delta", string(body))}
	case canonical.EventBlockStop:
		body := []byte(`{"type":"content_block_stop"}`)
		body, _ = sjson.SetBytes(body, "index", ev.BlockIndex)
		return []string{EncodeSSE("content_block_stop", string(body))}
	case canonical.EventMessageDelta:
		body := []byte(`{"type":"message_delta"}`)
		body, _ = sjson.SetBytes(body, "delta.stop_reason", claudeStopReasonStringFromEvent(ev.StopReason))
		body, _ = sjson.SetBytes(body, "usage.output_tokens", ev.Usage.OutputTokens)
		return []string{EncodeSSE("message_delta", string(body))}
	case canonical.EventMessageStop:
		return []string{EncodeSSE("message_stop", `{"type":"message_stop"}`)}
	default:
		return nil
	}
}

func encodeClaudeBlockStart(b canonical.Block) map[string]any {
	switch b.Type {
	case canonical.BlockToolUse:
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": json.RawMessage("{}")}
	case canonical.BlockThinking:
		return map[string]any{"type": "thinking", "thinking": ""}
	default:
		return map[string]any{"type": "text", "text": ""}
	}
}

func claudeStopReasonStringFromEvent(r canonical.StopReason) string {
	switch r {
	case canonical.StopMaxTokens:
		return "max_tokens"
	case canonical.StopToolUse:
		return "tool_use"
	case canonical.StopStopSeq:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
