package stream

import (
	"github.com/dfft546/gproxy/internal/translator/canonical"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAIChatStreamDecoder converts native chat-completion-chunk SSE
// frames into canonical events. OpenAI chat has no explicit
// block_start/block_stop frames, so this synthesizes them the first
// time a given content kind or tool-call index is seen and on the
// terminal chunk (finish_reason != "").
type OpenAIChatStreamDecoder struct {
	textStarted    bool
	toolStarted    map[int]bool
	sentMessageStart bool
}

// NewOpenAIChatStreamDecoder constructs a fresh per-connection decoder.
func NewOpenAIChatStreamDecoder() *OpenAIChatStreamDecoder {
	return &OpenAIChatStreamDecoder{toolStarted: map[int]bool{}}
}

// Decode converts one upstream chunk into canonical events.
func (d *OpenAIChatStreamDecoder) Decode(ev SSEEvent) []canonical.Event {
	if ev.Data == "[DONE]" {
		return nil
	}
	root := gjson.Parse(ev.Data)
	var out []canonical.Event
	if !d.sentMessageStart {
		d.sentMessageStart = true
		out = append(out, canonical.Event{Kind: canonical.EventMessageStart, Model: root.Get("model").String()})
	}
	choice := root.Get("choices.0")
	delta := choice.Get("delta")
	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		if !d.textStarted {
			d.textStarted = true
			out = append(out, canonical.Event{Kind: canonical.EventBlockStart, BlockIndex: 0, Block: canonical.Block{Type: canonical.BlockText, Index: 0}})
		}
		out = append(out, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: 0, DeltaText: text.String()})
	}
	for _, tc := range delta.Get("tool_calls").Array() {
		idx := int(tc.Get("index").Int()) + 1
		if !d.toolStarted[idx] {
			d.toolStarted[idx] = true
			out = append(out, canonical.Event{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: canonical.Block{
				Type: canonical.BlockToolUse, Index: idx, ToolUseID: tc.Get("id").String(), ToolName: tc.Get("function.name").String(),
			}})
		}
		if args := tc.Get("function.arguments"); args.Exists() && args.String() != "" {
			out = append(out, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaJSON: args.String()})
		}
	}
	if finish := choice.Get("finish_reason"); finish.Exists() && finish.String() != "" {
		if d.textStarted {
			out = append(out, canonical.Event{Kind: canonical.EventBlockStop, BlockIndex: 0})
		}
		for idx := range d.toolStarted {
			out = append(out, canonical.Event{Kind: canonical.EventBlockStop, BlockIndex: idx})
		}
		out = append(out, canonical.Event{Kind: canonical.EventMessageDelta, StopReason: openAIStreamFinishReason(finish.String())})
		usage := root.Get("usage")
		out = append(out, canonical.Event{
			Kind: canonical.EventMessageStop,
			Usage: canonical.Usage{InputTokens: usage.Get("prompt_tokens").Int(), OutputTokens: usage.Get("completion_tokens").Int()},
		})
	}
	return out
}

func openAIStreamFinishReason(s string) canonical.StopReason {
	switch s {
	case "length":
		return canonical.StopMaxTokens
	case "tool_calls":
		return canonical.StopToolUse
	case "content_filter":
		return canonical.StopContentFilter
	default:
		return canonical.StopEndTurn
	}
}

// OpenAIChatStreamEncoder renders canonical events as chat-completion-chunk
// SSE frames.
type OpenAIChatStreamEncoder struct {
	model     string
	blockKind map[int]canonical.BlockType
	toolIndex map[int]int
	nextTool  int
}

// NewOpenAIChatStreamEncoder constructs a fresh per-connection encoder.
func NewOpenAIChatStreamEncoder() *OpenAIChatStreamEncoder {
	return &OpenAIChatStreamEncoder{blockKind: map[int]canonical.BlockType{}, toolIndex: map[int]int{}}
}

// Encode renders one canonical event as zero or more wire frames.
func (e *OpenAIChatStreamEncoder) Encode(ev canonical.Event) []string {
	switch ev.Kind {
	case canonical.EventMessageStart:
		e.model = ev.Model
		return nil
	case canonical.EventBlockStart:
		e.blockKind[ev.BlockIndex] = ev.Block.Type
		if ev.Block.Type == canonical.BlockToolUse {
			e.toolIndex[ev.BlockIndex] = e.nextTool
			e.nextTool++
			return []string{e.chunk(map[string]any{"tool_calls": []any{map[string]any{
				"index": e.toolIndex[ev.BlockIndex], "id": ev.Block.ToolUseID, "type": "function",
				"function": map[string]any{"name": ev.Block.ToolName, "arguments": ""},
			}}}, "")}
		}
		return nil
	case canonical.EventBlockDelta:
		if e.blockKind[ev.BlockIndex] == canonical.BlockToolUse {
			return []string{e.chunk(map[string]any{"tool_calls": []any{map[string]any{
				"index": e.toolIndex[ev.BlockIndex], "function": map[string]any{"arguments": ev.DeltaJSON},
			}}}, "")}
		}
		return []string{e.chunk(map[string]any{"content": ev.DeltaText}, "")}
	case canonical.EventBlockStop:
		return nil
	case canonical.EventMessageDelta:
		return []string{e.chunk(map[string]any{}, openAIFinishReasonStringFromStream(ev.StopReason))}
	case canonical.EventMessageStop:
		return []string{"data: [DONE]\n\n"}
	default:
		return nil
	}
}

func (e *OpenAIChatStreamEncoder) chunk(delta map[string]any, finishReason string) string {
	body := []byte(`{"object":"chat.completion.chunk","choices":[{"index":0}]}`)
	body, _ = sjson.SetBytes(body, "model", e.model)
	body, _ = sjson.SetBytes(body, "choices.0.delta", delta)
	if finishReason != "" {
		body, _ = sjson.SetBytes(body, "choices.0.finish_reason", finishReason)
	} else {
		body, _ = sjson.SetBytes(body, "choices.0.finish_reason", nil)
	}
	return EncodeSSE("", string(body))
}

func openAIFinishReasonStringFromStream(r canonical.StopReason) string {
	switch r {
	case canonical.StopMaxTokens:
		return "length"
	case canonical.StopToolUse:
		return "tool_calls"
	case canonical.StopContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}
