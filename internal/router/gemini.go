package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/model"
)

// geminiModels handles GET/POST /{provider}/v1beta/models (List).
func (h *handler) geminiModels(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolGemini,
		CallerOp:       model.OpModelList,
		OutboundProxy:  h.outboundProxy(),
	}
	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}

// geminiModelAction handles GET/POST /{provider}/v1beta/models/<name>[:action],
// where action is one of {generateContent, streamGenerateContent,
// countTokens}, or a bare GET for Get. Gin routes this through the
// *rest wildcard since the ":action" suffix isn't a distinct path
// segment gin's tree can match on its own.
func (h *handler) geminiModelAction(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(c.Param("rest"), "/")
	name, action, hasAction := strings.Cut(rest, ":")
	body := readBody(c)

	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolGemini,
		Model:          name,
		Raw:            body,
		OutboundProxy:  h.outboundProxy(),
	}

	switch {
	case !hasAction && c.Request.Method == http.MethodGet:
		call.CallerOp = model.OpModelGet
	case hasAction && action == "generateContent":
		call.CallerOp = model.OpGenerateContent
	case hasAction && action == "streamGenerateContent":
		call.CallerOp = model.OpStreamGenerateContent
		call.Stream = true
		call.AltSSE = c.Query("alt") == "sse"
	case hasAction && action == "countTokens":
		call.CallerOp = model.OpCountTokens
	default:
		writeEngineError(c, errUnsupportedResponsesRoute(c.Request.Method, rest))
		return
	}

	res, err := h.deps.Engine.Execute(c.Request.Context(), call)
	writeResult(c, res, err)
}
