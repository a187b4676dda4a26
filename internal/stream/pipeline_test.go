package stream

import (
	"strings"
	"testing"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/tidwall/gjson"
)

func TestSSEDecoderHandlesSplitChunks(t *testing.T) {
	var d SSEDecoder
	first := d.Feed([]byte("event: message_start\ndata: {\"a\":"))
	if len(first) != 0 {
		t.Fatalf("expected no complete event yet, got %d", len(first))
	}
	second := d.Feed([]byte("1}\n\n"))
	if len(second) != 1 {
		t.Fatalf("expected one complete event, got %d", len(second))
	}
	if second[0].Event != "message_start" || second[0].Data != `{"a":1}` {
		t.Fatalf("unexpected event: %+v", second[0])
	}
}

func TestPipelineClaudeToOpenAIChatTextStream(t *testing.T) {
	p, err := NewPipeline(model.ProtocolClaude, model.ProtocolOpenAIChat, "", true)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	frames := []string{
		EncodeSSE("message_start", `{"type":"message_start","message":{"model":"claude-3","usage":{"input_tokens":12}}}`),
		EncodeSSE("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		EncodeSSE("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi "}}`),
		EncodeSSE("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}`),
		EncodeSSE("content_block_stop", `{"type":"content_block_stop","index":0}`),
		EncodeSSE("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`),
		EncodeSSE("message_stop", `{"type":"message_stop"}`),
	}
	var out []string
	for _, f := range frames {
		out = append(out, p.Feed([]byte(f))...)
	}
	joined := strings.Join(out, "")
	if !strings.Contains(joined, `"content":"hi "`) || !strings.Contains(joined, `"content":"there"`) {
		t.Fatalf("expected both text deltas forwarded, got %s", joined)
	}
	if !strings.Contains(joined, "[DONE]") {
		t.Fatalf("expected terminal [DONE] frame, got %s", joined)
	}
	usage, ok := p.Usage()
	if !ok {
		t.Fatal("expected usage to be observed")
	}
	if usage.OutputTokens != 2 {
		t.Fatalf("expected output_tokens=2, got %d", usage.OutputTokens)
	}
}

func TestPipelineOpenAIChatToClaudeToolCall(t *testing.T) {
	p, err := NewPipeline(model.ProtocolOpenAIChat, model.ProtocolClaude, "", true)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	frames := []string{
		EncodeSSE("", `{"model":"gpt-4","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`),
		EncodeSSE("", `{"model":"gpt-4","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}}]}`),
		EncodeSSE("", `{"model":"gpt-4","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`),
		EncodeSSE("", `{"model":"gpt-4","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`),
	}
	var out []string
	for _, f := range frames {
		out = append(out, p.Feed([]byte(f))...)
	}
	joined := strings.Join(out, "")
	if !strings.Contains(joined, `"name":"lookup"`) {
		t.Fatalf("expected tool_use block start with name, got %s", joined)
	}
	if !strings.Contains(joined, "message_stop") {
		t.Fatalf("expected message_stop frame, got %s", joined)
	}
}

func TestNDJSONDecoderSplitsLines(t *testing.T) {
	var d NDJSONDecoder
	lines := d.Feed([]byte("{\"a\":1}\n{\"b\":"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 complete line, got %d", len(lines))
	}
	lines = d.Feed([]byte("2}\n"))
	if len(lines) != 1 || gjson.GetBytes(lines[0], "b").Int() != 2 {
		t.Fatalf("expected second line to complete, got %v", lines)
	}
}

func TestKeepAliveResetDelaysFire(t *testing.T) {
	k := NewKeepAlive()
	defer k.Stop()
	k.Reset()
	select {
	case <-k.C():
		t.Fatal("keep-alive should not have fired immediately after reset")
	default:
	}
}
