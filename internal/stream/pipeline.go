package stream

import (
	"fmt"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/translator/canonical"
)

// decodeFn turns one upstream SSE frame into zero or more canonical
// events, given per-connection state carried in the closure.
type decodeFn func(SSEEvent) []canonical.Event

// encodeFn renders one canonical event as zero or more downstream wire
// frames.
type encodeFn func(canonical.Event) []string

// NewDecodeFn exposes the src-specific decode half for callers (the
// engine's stream->non-stream accumulation path) that need raw canonical
// events without a paired encoder.
func NewDecodeFn(proto model.Protocol) (func(SSEEvent) []canonical.Event, error) {
	return newDecodeFn(proto)
}

// NewEncodeFn exposes the dst-specific encode half for callers (the
// engine's non-stream->stream synthesis path) that already have a
// canonical.Event sequence in hand. sseFraming only matters when proto is
// Gemini: false renders NDJSON lines instead of SSE frames (spec §4.6
// case 3's "otherwise emit NDJSON").
func NewEncodeFn(proto model.Protocol, requestModel string, sseFraming bool) (func(canonical.Event) []string, error) {
	return newEncodeFn(proto, requestModel, sseFraming)
}

func newDecodeFn(proto model.Protocol) (decodeFn, error) {
	switch proto {
	case model.ProtocolClaude:
		return DecodeClaudeStreamEvent, nil
	case model.ProtocolOpenAIChat:
		d := NewOpenAIChatStreamDecoder()
		return d.Decode, nil
	case model.ProtocolGemini:
		nextIndex := 0
		return func(ev SSEEvent) []canonical.Event {
			return DecodeGeminiStreamChunk([]byte(ev.Data), &nextIndex)
		}, nil
	case model.ProtocolOpenAIResponse:
		return DecodeOpenAIResponsesStreamEvent, nil
	default:
		return nil, fmt.Errorf("stream: no decoder for protocol %q", proto)
	}
}

func newEncodeFn(proto model.Protocol, requestModel string, sseFraming bool) (encodeFn, error) {
	switch proto {
	case model.ProtocolClaude:
		e := &ClaudeStreamEncoder{}
		return e.Encode, nil
	case model.ProtocolOpenAIChat:
		e := NewOpenAIChatStreamEncoder()
		return e.Encode, nil
	case model.ProtocolGemini:
		e := NewGeminiStreamEncoder(sseFraming)
		return e.Encode, nil
	case model.ProtocolOpenAIResponse:
		e := NewOpenAIResponsesStreamEncoder(requestModel)
		return e.Encode, nil
	default:
		return nil, fmt.Errorf("stream: no encoder for protocol %q", proto)
	}
}

// Pipeline decodes one generate-protocol's SSE stream into canonical
// events and re-encodes them for another, accumulating usage and output
// text along the way (spec §4.7/§4.8). Construct one per in-flight
// streaming request; it is not safe for concurrent use.
type Pipeline struct {
	sse     SSEDecoder
	decode  decodeFn
	encode  encodeFn
	usage   UsageAccumulator
	text    OutputTextAccumulator
}

// NewPipeline builds a transform pipeline from src's wire framing to
// dst's. requestModel is forwarded to the OpenAI-Responses encoder for
// its response.model choice (see
// OpenAIResponsesStreamEncoder's doc comment). sseFraming selects SSE vs
// NDJSON downstream framing when dst is Gemini.
func NewPipeline(src, dst model.Protocol, requestModel string, sseFraming bool) (*Pipeline, error) {
	decode, err := newDecodeFn(src)
	if err != nil {
		return nil, err
	}
	encode, err := newEncodeFn(dst, requestModel, sseFraming)
	if err != nil {
		return nil, err
	}
	return &Pipeline{decode: decode, encode: encode}, nil
}

// Feed decodes one raw upstream chunk (as delivered off the wire,
// possibly a partial SSE frame) and returns the downstream wire frames
// it produces, if any.
func (p *Pipeline) Feed(chunk []byte) []string {
	var out []string
	for _, ev := range p.sse.Feed(chunk) {
		for _, canon := range p.decode(ev) {
			p.observe(canon)
			out = append(out, p.encode(canon)...)
		}
	}
	return out
}

func (p *Pipeline) observe(ev canonical.Event) {
	Observe(ev, &p.usage, &p.text)
}

// Observe folds one canonical event into a usage/output-text accumulator
// pair, shared by Pipeline and by callers (the engine's same-protocol
// passthrough path) that decode a side copy of a stream without a full
// Pipeline.
func Observe(ev canonical.Event, usage *UsageAccumulator, text *OutputTextAccumulator) {
	if ev.Kind == canonical.EventBlockDelta && ev.DeltaText != "" {
		text.Add(ev.DeltaText)
	}
	if ev.Kind == canonical.EventMessageStop || ev.Kind == canonical.EventMessageDelta {
		usage.Observe(ev.Usage)
	}
}

// Usage returns the accumulated usage, or ok=false if the upstream never
// reported one.
func (p *Pipeline) Usage() (canonical.Usage, bool) {
	return p.usage.Usage()
}

// FallbackTokens returns the len/4 estimate over accumulated output
// text, used only when Usage()'s ok is false (spec §4.8).
func (p *Pipeline) FallbackTokens() int64 {
	return p.text.EstimatedTokens()
}

// OutputText returns the accumulated output text, the basis for the
// §4.8 CountTokens-fallback request when the upstream never reported a
// native usage block.
func (p *Pipeline) OutputText() string {
	return p.text.String()
}
