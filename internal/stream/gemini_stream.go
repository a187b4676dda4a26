package stream

import (
	"github.com/dfft546/gproxy/internal/translator/canonical"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeGeminiStreamChunk converts one native streamGenerateContent
// chunk (a full GenerateContentResponse fragment, not a diff) into
// canonical events. Gemini sends each incremental part as a complete
// part object rather than a delta against a previously-opened block, so
// every part becomes its own start+delta+stop triple.
func DecodeGeminiStreamChunk(raw []byte, nextIndex *int) []canonical.Event {
	root := gjson.ParseBytes(raw)
	var out []canonical.Event
	if root.Get("candidates").Exists() {
		cand := root.Get("candidates.0")
		for _, p := range cand.Get("content.parts").Array() {
			idx := *nextIndex
			*nextIndex++
			if fc := p.Get("functionCall"); fc.Exists() {
				out = append(out, canonical.Event{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: canonical.Block{
					Type: canonical.BlockToolUse, Index: idx, ToolName: fc.Get("name").String(),
				}})
				out = append(out, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaJSON: fc.Get("args").Raw})
				out = append(out, canonical.Event{Kind: canonical.EventBlockStop, BlockIndex: idx})
				continue
			}
			out = append(out, canonical.Event{Kind: canonical.EventBlockStart, BlockIndex: idx, Block: canonical.Block{Type: canonical.BlockText, Index: idx}})
			out = append(out, canonical.Event{Kind: canonical.EventBlockDelta, BlockIndex: idx, DeltaText: p.Get("text").String()})
			out = append(out, canonical.Event{Kind: canonical.EventBlockStop, BlockIndex: idx})
		}
		if fr := cand.Get("finishReason"); fr.Exists() && fr.String() != "" {
			out = append(out, canonical.Event{Kind: canonical.EventMessageDelta, StopReason: geminiStreamFinishReason(fr.String())})
		}
	}
	if usage := root.Get("usageMetadata"); usage.Exists() {
		out = append(out, canonical.Event{
			Kind: canonical.EventMessageStop,
			Usage: canonical.Usage{
				InputTokens:  usage.Get("promptTokenCount").Int(),
				OutputTokens: usage.Get("candidatesTokenCount").Int(),
			},
		})
	}
	return out
}

func geminiStreamFinishReason(s string) canonical.StopReason {
	switch s {
	case "MAX_TOKENS":
		return canonical.StopMaxTokens
	case "SAFETY", "RECITATION":
		return canonical.StopContentFilter
	default:
		return canonical.StopEndTurn
	}
}

// GeminiStreamEncoder renders canonical events as streamGenerateContent
// chunks. Tool-call argument deltas are buffered until the owning
// block's stop event, since Gemini has no partial-function-call-JSON
// wire shape. Framing is SSE when the downstream asked for ?alt=sse (or
// the upstream answered over text/event-stream); otherwise it is plain
// NDJSON, matching the native streamGenerateContent default (spec
// §4.6 case 3).
type GeminiStreamEncoder struct {
	toolBuf  map[int]string
	toolName map[int]string
	sse      bool
}

// NewGeminiStreamEncoder constructs a fresh per-connection encoder.
// sseFraming picks SSE (true) or NDJSON (false) wire framing.
func NewGeminiStreamEncoder(sseFraming bool) *GeminiStreamEncoder {
	return &GeminiStreamEncoder{toolBuf: map[int]string{}, toolName: map[int]string{}, sse: sseFraming}
}

// frame renders one JSON body as a wire frame in the encoder's chosen
// framing.
func (e *GeminiStreamEncoder) frame(body string) string {
	if e.sse {
		return EncodeSSE("", body)
	}
	return EncodeNDJSON([]byte(body))
}

// Encode renders one canonical event as zero or more wire chunks.
func (e *GeminiStreamEncoder) Encode(ev canonical.Event) []string {
	switch ev.Kind {
	case canonical.EventBlockStart:
		if ev.Block.Type == canonical.BlockToolUse {
			e.toolName[ev.BlockIndex] = ev.Block.ToolName
		}
		return nil
	case canonical.EventBlockDelta:
		if name, ok := e.toolName[ev.BlockIndex]; ok && name != "" {
			e.toolBuf[ev.BlockIndex] += ev.DeltaJSON
			return nil
		}
		return []string{e.chunk(map[string]any{"text": ev.DeltaText}, "")}
	case canonical.EventBlockStop:
		if name, ok := e.toolName[ev.BlockIndex]; ok && name != "" {
			return []string{e.chunk(map[string]any{"functionCall": map[string]any{"name": name, "args": rawOrEmpty(e.toolBuf[ev.BlockIndex])}}, "")}
		}
		return nil
	case canonical.EventMessageDelta:
		return []string{e.chunkFinish(geminiFinishReasonStringFromStream(ev.StopReason))}
	case canonical.EventMessageStop:
		body := []byte(`{"candidates":[{"index":0}]}`)
		body, _ = sjson.SetBytes(body, "usageMetadata.promptTokenCount", ev.Usage.InputTokens)
		body, _ = sjson.SetBytes(body, "usageMetadata.candidatesTokenCount", ev.Usage.OutputTokens)
		return []string{e.frame(string(body))}
	default:
		return nil
	}
}

func (e *GeminiStreamEncoder) chunk(part map[string]any, finishReason string) string {
	body := []byte(`{"candidates":[{"index":0,"content":{"role":"model"}}]}`)
	body, _ = sjson.SetBytes(body, "candidates.0.content.parts", []any{part})
	if finishReason != "" {
		body, _ = sjson.SetBytes(body, "candidates.0.finishReason", finishReason)
	}
	return e.frame(string(body))
}

func (e *GeminiStreamEncoder) chunkFinish(finishReason string) string {
	body := []byte(`{"candidates":[{"index":0}]}`)
	body, _ = sjson.SetBytes(body, "candidates.0.finishReason", finishReason)
	return e.frame(string(body))
}

func geminiFinishReasonStringFromStream(r canonical.StopReason) string {
	switch r {
	case canonical.StopMaxTokens:
		return "MAX_TOKENS"
	case canonical.StopContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

func rawOrEmpty(s string) any {
	if s == "" {
		return map[string]any{}
	}
	return gjson.Parse(s).Value()
}
