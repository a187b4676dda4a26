package router

import (
	"context"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/model"
)

// disambiguateProtocol picks the caller protocol for the header/key-style
// ambiguous GET .../v1/models route (spec §6.1): Claude if
// anthropic-version is present, Gemini if the request looks
// Google-key-styled, OpenAI otherwise.
func disambiguateProtocol(c *gin.Context) model.Protocol {
	if c.GetHeader("anthropic-version") != "" {
		return model.ProtocolClaude
	}
	if googleKeyStyle(c) {
		return model.ProtocolGemini
	}
	return model.ProtocolOpenAI
}

// providerModels handles GET /{provider}/v1/models.
func (h *handler) providerModels(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: disambiguateProtocol(c),
		CallerOp:       model.OpModelList,
		OutboundProxy:  h.outboundProxy(),
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}

// providerModelGet handles GET /{provider}/v1/models/:id.
func (h *handler) providerModelGet(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: disambiguateProtocol(c),
		CallerOp:       model.OpModelGet,
		Model:          c.Param("id"),
		OutboundProxy:  h.outboundProxy(),
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}

// silentAggregateErrors lists the engine error codes that must not flip
// the aggregate response's "partial" flag (spec §6.1).
var silentAggregateErrors = map[string]bool{
	"no_active_credentials": true,
	"unsupported_operation": true,
	"provider_disabled":     true,
}

func isSilentAggregateError(err error) bool {
	engErr, ok := err.(*engine.Error)
	return ok && silentAggregateErrors[engErr.Code]
}

// listField names the array field each protocol's ModelList response
// keeps its entries under.
func listField(proto model.Protocol) string {
	if proto == model.ProtocolGemini {
		return "models"
	}
	return "data"
}

// idField names the per-entry model-id field for each protocol.
func idField(proto model.Protocol) string {
	if proto == model.ProtocolGemini {
		return "name"
	}
	return "id"
}

// aggregateModels handles GET /v1/models: fan out to every enabled
// provider, concatenate entries with a "<provider>/" id prefix, and
// flag the response partial if any non-silent sub-call failed.
func (h *handler) aggregateModels(c *gin.Context) {
	proto := disambiguateProtocol(c)
	snap := h.deps.Snapshots.Current()
	providers := snap.EnabledProviders()

	type subResult struct {
		provider string
		entries  []byte
		err      error
	}
	results := make([]subResult, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, providerName string) {
			defer wg.Done()
			res, err := h.deps.Engine.Execute(context.Background(), engine.Call{
				TraceID:        traceID(c),
				ProviderName:   providerName,
				CallerProtocol: proto,
				CallerOp:       model.OpModelList,
				OutboundProxy:  h.outboundProxy(),
			})
			if err != nil {
				results[i] = subResult{provider: providerName, err: err}
				return
			}
			results[i] = subResult{provider: providerName, entries: res.Body}
		}(i, p.Name)
	}
	wg.Wait()

	field := listField(proto)
	id := idField(proto)
	merged := make([]any, 0)
	partial := false
	for _, r := range results {
		if r.err != nil {
			if !isSilentAggregateError(r.err) {
				partial = true
			}
			continue
		}
		for _, entry := range gjson.GetBytes(r.entries, field).Array() {
			m := entry.Value()
			mm, ok := m.(map[string]any)
			if !ok {
				continue
			}
			name, _ := mm[id].(string)
			mm[id] = r.provider + "/" + name
			merged = append(merged, mm)
		}
	}

	out := []byte("{}")
	if proto == model.ProtocolOpenAI {
		out, _ = sjson.SetBytes(out, "object", "list")
	}
	out, _ = sjson.SetBytes(out, field, merged)
	if partial {
		out, _ = sjson.SetBytes(out, "partial", true)
	}
	c.Data(200, "application/json", out)
}

// splitAggregateModel splits a "<provider>/<model>" identifier. Models
// may themselves contain slashes, so the split is on the first slash
// only.
func splitAggregateModel(full string) (provider, modelName string, ok bool) {
	provider, modelName, found := strings.Cut(full, "/")
	if !found || provider == "" || modelName == "" {
		return "", "", false
	}
	return provider, modelName, true
}

// aggregateClaudeMessages handles POST /v1/messages: the body's "model"
// must be "<provider>/<model>"; the router splits it, rewrites the body
// to the bare model name, and forwards to that one provider.
func (h *handler) aggregateClaudeMessages(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	body := readBody(c)
	full := gjson.GetBytes(body, "model").String()
	providerName, modelName, ok := splitAggregateModel(full)
	if !ok {
		writeEngineError(c, &engine.Error{Status: 400, Code: "downstream_validation", Detail: "model must be \"<provider>/<model>\""})
		return
	}
	body, _ = sjson.SetBytes(body, "model", modelName)

	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   providerName,
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpGenerateContent,
		Model:          modelName,
		Stream:         gjson.GetBytes(body, "stream").Bool(),
		Raw:            body,
		OutboundProxy:  h.outboundProxy(),
	}
	if call.Stream {
		call.CallerOp = model.OpStreamGenerateContent
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}

// aggregateOpenAIChatCompletions handles POST /v1/chat/completions with
// the same "<provider>/<model>" split as aggregateClaudeMessages.
func (h *handler) aggregateOpenAIChatCompletions(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	body := readBody(c)
	full := gjson.GetBytes(body, "model").String()
	providerName, modelName, ok := splitAggregateModel(full)
	if !ok {
		writeEngineError(c, &engine.Error{Status: 400, Code: "downstream_validation", Detail: "model must be \"<provider>/<model>\""})
		return
	}
	body, _ = sjson.SetBytes(body, "model", modelName)

	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   providerName,
		CallerProtocol: model.ProtocolOpenAIChat,
		CallerOp:       model.OpGenerateContent,
		Model:          modelName,
		Stream:         gjson.GetBytes(body, "stream").Bool(),
		Raw:            body,
		OutboundProxy:  h.outboundProxy(),
	}
	if call.Stream {
		call.CallerOp = model.OpStreamGenerateContent
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}
