package stream

import (
	"github.com/dfft546/gproxy/internal/translator/canonical"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeOpenAIResponsesStreamEvent converts one native /v1/responses SSE
// frame into canonical events. The Responses event names are carried in
// "type" inside the JSON body rather than the SSE "event:" field.
func DecodeOpenAIResponsesStreamEvent(ev SSEEvent) []canonical.Event {
	root := gjson.Parse(ev.Data)
	switch root.Get("type").String() {
	case "response.created":
		return []canonical.Event{{Kind: canonical.EventMessageStart, Model: root.Get("response.model").String()}}
	case "response.output_item.added":
		item := root.Get("item")
		idx := int(root.Get("output_index").Int())
		if item.Get("type").String() == "function_call" {
			return []canonical.Event{{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: canonical.Block{
				Type: canonical.BlockToolUse, Index: idx, ToolUseID: item.Get("call_id").String(), ToolName: item.Get("name").String(),
			}}}
		}
		return []canonical.Event{{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: canonical.Block{Type: canonical.BlockText, Index: idx}}}
	case "response.output_text.delta":
		return []canonical.Event{{Kind: canonical.EventBlockDelta, BlockIndex: int(root.Get("output_index").Int()), DeltaText: root.Get("delta").String()}}
	case "response.function_call_arguments.delta":
		return []canonical.Event{{Kind: canonical.EventBlockDelta, BlockIndex: int(root.Get("output_index").Int()), DeltaJSON: root.Get("delta").String()}}
	case "response.output_item.done":
		return []canonical.Event{{Kind: canonical.EventBlockStop, BlockIndex: int(root.Get("output_index").Int())}}
	case "response.completed":
		resp := root.Get("response")
		return []canonical.Event{
			{Kind: canonical.EventMessageDelta, StopReason: responsesStreamStopReason(resp.Get("status").String())},
			{Kind: canonical.EventMessageStop, Usage: canonical.Usage{
				InputTokens:  resp.Get("usage.input_tokens").Int(),
				OutputTokens: resp.Get("usage.output_tokens").Int(),
			}},
		}
	default:
		return nil
	}
}

func responsesStreamStopReason(status string) canonical.StopReason {
	if status == "incomplete" {
		return canonical.StopMaxTokens
	}
	return canonical.StopEndTurn
}

// OpenAIResponsesStreamEncoder renders canonical events as native
// /v1/responses SSE frames.
//
// Open question (spec §9): whether the final response.completed event's
// response.model should reflect the downstream caller's requested model
// alias rather than the upstream provider's native model id, when the
// two differ after a cross-provider dispatch. Decided yes: this is the
// one place a downstream client reads the served model name back out of
// a streamed response, and every other surface (non-stream response
// body, ModelList) already reports the caller-facing alias.
type OpenAIResponsesStreamEncoder struct {
	model        string
	requestModel string
	blockKind    map[int]canonical.BlockType
	seq          int
}

// NewOpenAIResponsesStreamEncoder constructs a fresh per-connection
// encoder. requestModel is the model name the downstream caller asked
// for, written into response.model of response.created and
// response.completed per the Open Question decision above.
func NewOpenAIResponsesStreamEncoder(requestModel string) *OpenAIResponsesStreamEncoder {
	return &OpenAIResponsesStreamEncoder{blockKind: map[int]canonical.BlockType{}, requestModel: requestModel}
}

// Encode renders one canonical event as zero or more wire frames.
func (e *OpenAIResponsesStreamEncoder) Encode(ev canonical.Event) []string {
	switch ev.Kind {
	case canonical.EventMessageStart:
		e.model = ev.Model
		body := []byte(`{"type":"response.created","response":{"object":"response","status":"in_progress"}}`)
		body, _ = sjson.SetBytes(body, "response.model", e.servedModel())
		return []string{EncodeSSE("", string(body))}
	case canonical.EventBlockStart:
		e.blockKind[ev.BlockIndex] = ev.Block.Type
		item := map[string]any{"type": "message", "role": "assistant"}
		if ev.Block.Type == canonical.BlockToolUse {
			item = map[string]any{"type": "function_call", "call_id": ev.Block.ToolUseID, "name": ev.Block.ToolName}
		}
		body := []byte(`{"type":"response.output_item.added"}`)
		body, _ = sjson.SetBytes(body, "output_index", ev.BlockIndex)
		body, _ = sjson.SetBytes(body, "item", item)
		return []string{EncodeSSE("", string(body))}
	case canonical.EventBlockDelta:
		if e.blockKind[ev.BlockIndex] == canonical.BlockToolUse {
			body := []byte(`{"type":"response.function_call_arguments.delta"}`)
			body, _ = sjson.SetBytes(body, "output_index", ev.BlockIndex)
			body, _ = sjson.SetBytes(body, "delta", ev.DeltaJSON)
			return []string{EncodeSSE("", string(body))}
		}
		body := []byte(`{"type":"response.output_text.delta"}`)
		body, _ = sjson.SetBytes(body, "output_index", ev.BlockIndex)
		body, _ = sjson.SetBytes(body, "delta", ev.DeltaText)
		return []string{EncodeSSE("", string(body))}
	case canonical.EventBlockStop:
		body := []byte(`{"type":"response.output_item.done"}`)
		body, _ = sjson.SetBytes(body, "output_index", ev.BlockIndex)
		return []string{EncodeSSE("", string(body))}
	case canonical.EventMessageDelta:
		return nil
	case canonical.EventMessageStop:
		body := []byte(`{"type":"response.completed","response":{"object":"response","status":"completed"}}`)
		body, _ = sjson.SetBytes(body, "response.model", e.servedModel())
		body, _ = sjson.SetBytes(body, "response.usage.input_tokens", ev.Usage.InputTokens)
		body, _ = sjson.SetBytes(body, "response.usage.output_tokens", ev.Usage.OutputTokens)
		return []string{EncodeSSE("", string(body))}
	default:
		return nil
	}
}

// servedModel returns the requestModel alias when set, else the
// upstream's native model id.
func (e *OpenAIResponsesStreamEncoder) servedModel() string {
	if e.requestModel != "" {
		return e.requestModel
	}
	return e.model
}
