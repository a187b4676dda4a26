package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/model"
)

// openAIChatCompletions handles POST /{provider}/v1/chat/completions.
func (h *handler) openAIChatCompletions(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	body := readBody(c)
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolOpenAIChat,
		CallerOp:       model.OpGenerateContent,
		Model:          gjson.GetBytes(body, "model").String(),
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

// openAIResponses handles every /{provider}/v1/responses... route: the
// create call, and the response-lifecycle passthroughs (get/delete/
// cancel/list-input-items), plus the separately-protocol'd
// input_tokens counting call. Dispatch is by method and the trailing
// *rest wildcard since gin cannot express this branching as a static
// route table (spec §6.1 "OpenAI-Responses | Passthrough").
func (h *handler) openAIResponses(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	rest := strings.Trim(c.Param("rest"), "/")
	body := readBody(c)

	if rest == "input_tokens" && c.Request.Method == http.MethodPost {
		call := engine.Call{
			TraceID:        traceID(c),
			Identity:       identity,
			ProviderName:   c.Param("provider"),
			CallerProtocol: model.ProtocolOpenAI,
			CallerOp:       model.OpCountTokens,
			Model:          gjson.GetBytes(body, "model").String(),
			Raw:            body,
			OutboundProxy:  h.outboundProxy(),
		}
		res, err := h.deps.Engine.Execute(c.Request.Context(), call)
		writeResult(c, res, err)
		return
	}

	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolOpenAIResponse,
		Raw:            body,
		OutboundProxy:  h.outboundProxy(),
	}

	switch {
	case rest == "" && c.Request.Method == http.MethodPost:
		call.CallerOp = model.OpGenerateContent
		call.Model = gjson.GetBytes(body, "model").String()
		call.Stream = gjson.GetBytes(body, "stream").Bool()
		if call.Stream {
			call.CallerOp = model.OpStreamGenerateContent
		}
	case strings.HasSuffix(rest, "/cancel") && c.Request.Method == http.MethodPost:
		call.CallerOp = model.OpResponseCancel
		call.PathExtra = strings.TrimSuffix(rest, "/cancel")
	case strings.HasSuffix(rest, "/input_items") && c.Request.Method == http.MethodGet:
		call.CallerOp = model.OpResponseListInputItems
		call.PathExtra = strings.TrimSuffix(rest, "/input_items")
	case strings.HasSuffix(rest, "/compact") && c.Request.Method == http.MethodPost:
		call.CallerOp = model.OpResponseCompact
		call.PathExtra = strings.TrimSuffix(rest, "/compact")
	case c.Request.Method == http.MethodGet:
		call.CallerOp = model.OpResponseGet
		call.PathExtra = rest
	case c.Request.Method == http.MethodDelete:
		call.CallerOp = model.OpResponseDelete
		call.PathExtra = rest
	default:
		writeEngineError(c, errUnsupportedResponsesRoute(c.Request.Method, rest))
		return
	}

	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}

func errUnsupportedResponsesRoute(method, rest string) error {
	return &engine.Error{Status: http.StatusNotFound, Code: "unsupported_operation", Detail: method + " /v1/responses/" + rest}
}
