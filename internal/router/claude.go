package router

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/model"
)

// claudeMessages handles POST /{provider}/v1/messages: Generate or
// StreamGenerate, picked from the request body's "stream" field.
func (h *handler) claudeMessages(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	body := readBody(c)
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolClaude,
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

// claudeCountTokens handles POST /{provider}/v1/messages/count_tokens.
func (h *handler) claudeCountTokens(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	body := readBody(c)
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpCountTokens,
		Model:          gjson.GetBytes(body, "model").String(),
		Raw:            body,
		OutboundProxy:  h.outboundProxy(),
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}
