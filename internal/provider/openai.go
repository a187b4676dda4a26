package provider

import (
	"context"

	"github.com/dfft546/gproxy/internal/model"
)

// OpenAIAdapter speaks OpenAI-Chat and OpenAI-Responses natively with a
// plain API-key credential. Grounded on
// internal/client/openai-compatibility_client.go's request-building shape
// (bearer header, JSON body passthrough).
type OpenAIAdapter struct{ base }

// NewOpenAIAdapter constructs the OpenAI adapter.
func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	t := nativeDispatchTable(model.ProtocolOpenAI, model.ProtocolOpenAIChat)
	return addResponsesStateOps(t, model.ProtocolOpenAIResponse)
}

func (a *OpenAIAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://api.openai.com")
	path := "/v1/chat/completions"
	if req.Operation == model.OpModelList {
		path = "/v1/models"
	} else if req.Operation == model.OpModelGet {
		path = "/v1/models/" + req.Model
	} else if req.Operation == model.OpCountTokens {
		path = "/v1/responses/input_tokens"
	} else if req.Protocol == model.ProtocolOpenAIResponse {
		path = "/v1/responses" + req.PathExtra
	}
	method := "POST"
	if req.Operation == model.OpModelList || req.Operation == model.OpModelGet || req.Operation == model.OpResponseGet || req.Operation == model.OpResponseListInputItems {
		method = "GET"
	} else if req.Operation == model.OpResponseDelete {
		method = "DELETE"
	}
	return UpstreamHttpRequest{
		Method: method,
		URL:    base + path,
		Headers: []HeaderKV{
			header("Authorization", "Bearer "+cred.Secret.APIKey),
			header("Content-Type", "application/json"),
		},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

