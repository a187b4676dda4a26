package translator

import (
	"testing"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/tidwall/gjson"
)

func TestIdentityTransformSkipsConversion(t *testing.T) {
	raw := []byte(`{"model":"whatever","weird":true}`)
	out, err := ConvertRequest(model.ProtocolClaude, model.ProtocolClaude, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("identity transform should return raw unchanged, got %s", out)
	}
}

func TestMatrixCoverage(t *testing.T) {
	protocols := []model.Protocol{model.ProtocolClaude, model.ProtocolOpenAIChat, model.ProtocolOpenAIResponse, model.ProtocolGemini}
	req := []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	for _, src := range protocols {
		for _, dst := range protocols {
			if _, err := ConvertRequest(src, dst, req); err != nil {
				t.Errorf("ConvertRequest(%s->%s) failed: %v", src, dst, err)
			}
		}
	}
}

func TestClaudeOpenAIChatRoundTrip(t *testing.T) {
	claudeReq := []byte(`{"model":"claude-3","max_tokens":256,"system":"be terse","messages":[
		{"role":"user","content":"What's 2+2?"}
	]}`)
	openaiReq, err := ConvertRequest(model.ProtocolClaude, model.ProtocolOpenAIChat, claudeReq)
	if err != nil {
		t.Fatalf("claude->openai: %v", err)
	}
	if gjson.GetBytes(openaiReq, "messages.0.role").String() != "system" {
		t.Fatalf("expected system message first, got %s", openaiReq)
	}
	if gjson.GetBytes(openaiReq, "messages.1.content").String() != "What's 2+2?" {
		t.Fatalf("expected user text preserved, got %s", openaiReq)
	}

	back, err := ConvertRequest(model.ProtocolOpenAIChat, model.ProtocolClaude, openaiReq)
	if err != nil {
		t.Fatalf("openai->claude: %v", err)
	}
	if gjson.GetBytes(back, "system").String() != "be terse" {
		t.Fatalf("expected system preserved on round trip, got %s", back)
	}
	if gjson.GetBytes(back, "messages.0.content.0.text").String() != "What's 2+2?" {
		t.Fatalf("expected user text preserved on round trip, got %s", back)
	}
}

func TestToolUseRoundTripClaudeToOpenAI(t *testing.T) {
	claudeResp := []byte(`{"model":"claude-3","stop_reason":"tool_use","content":[
		{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"nyc"}}
	],"usage":{"input_tokens":10,"output_tokens":5}}`)
	openaiResp, err := ConvertResponse(model.ProtocolClaude, model.ProtocolOpenAIChat, claudeResp)
	if err != nil {
		t.Fatalf("claude->openai response: %v", err)
	}
	if gjson.GetBytes(openaiResp, "choices.0.finish_reason").String() != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %s", openaiResp)
	}
	if gjson.GetBytes(openaiResp, "choices.0.message.tool_calls.0.function.name").String() != "get_weather" {
		t.Fatalf("expected tool call name preserved, got %s", openaiResp)
	}
}

func TestConvertModelListOpenAIToGemini(t *testing.T) {
	openaiList := []byte(`{"object":"list","data":[{"id":"gpt-4","object":"model","created":1}]}`)
	out, err := ConvertModelList(model.ProtocolOpenAI, model.ProtocolGemini, openaiList)
	if err != nil {
		t.Fatalf("ConvertModelList: %v", err)
	}
	if gjson.GetBytes(out, "models.0.name").String() != "gpt-4" {
		t.Fatalf("expected model name carried over, got %s", out)
	}
}

func TestConvertCountTokensResponse(t *testing.T) {
	geminiResp := []byte(`{"totalTokens":42}`)
	out, err := ConvertCountTokensResponse(model.ProtocolGemini, model.ProtocolClaude, geminiResp)
	if err != nil {
		t.Fatalf("ConvertCountTokensResponse: %v", err)
	}
	if gjson.GetBytes(out, "input_tokens").Int() != 42 {
		t.Fatalf("expected 42 input_tokens, got %s", out)
	}
}
