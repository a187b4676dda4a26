package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/model"
)

// oauthStart handles GET /{provider}/oauth (spec §4.5 item 10): a pure
// function producing a redirect to the provider's consent URL, no
// downstream authentication and no credential pool involvement.
func (h *handler) oauthStart(c *gin.Context) {
	call := engine.Call{
		TraceID:       traceID(c),
		ProviderName:  c.Param("provider"),
		PathExtra:     c.Query("state"),
		OutboundProxy: h.outboundProxy(),
	}
	res, err := h.deps.Engine.ExecuteOAuthStart(c.Request.Context(), call)
	writeResult(c, res, err)
}

// oauthCallback handles GET /{provider}/oauth/callback. The adapter's
// returned credential is already persisted by the engine; this handler
// only renders the adapter's HTTP response.
func (h *handler) oauthCallback(c *gin.Context) {
	call := engine.Call{
		TraceID:       traceID(c),
		ProviderName:  c.Param("provider"),
		PathExtra:     c.Request.URL.RawQuery,
		OutboundProxy: h.outboundProxy(),
	}
	res, _, err := h.deps.Engine.ExecuteOAuthCallback(c.Request.Context(), call)
	writeResult(c, res, err)
}

// usage handles GET /{provider}/usage?credential_id=... (spec §4.5's
// UpstreamUsage{credential_id} ProxyCall variant).
func (h *handler) usage(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	credentialID := c.Query("credential_id")
	if credentialID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "downstream_validation", "message": "credential_id is required"}})
		return
	}
	call := engine.Call{
		TraceID:        traceID(c),
		Identity:       identity,
		ProviderName:   c.Param("provider"),
		CallerProtocol: model.ProtocolOpenAI,
		CallerOp:       model.OpUpstreamUsage,
		OutboundProxy:  h.outboundProxy(),
	}
	res, err := h.deps.Engine.ExecuteUsage(c.Request.Context(), call, credentialID)
	writeResult(c, res, err)
}
