// Package router implements C9: the downstream-facing HTTP surface.
// Route parsing, protocol disambiguation, aggregate fan-out, trace-id
// injection, and SSE framing live here; request handling itself is
// delegated to internal/engine. Grounded on the teacher's
// internal/api/server.go route-table shape and
// internal/api/middleware/request_logging.go's capture-then-forward
// middleware idiom.
package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/events"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage"
)

// Deps bundles the collaborators the router dispatches to.
type Deps struct {
	Engine    *engine.Engine
	Snapshots *snapshot.Store
	AdminAuth *authtable.AdminAuthenticator
	Store     storage.Store
	Hub       *events.Hub
}

// hopByHopHeaders are dropped from upstream response headers before they
// are written downstream (spec §6.1).
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// New builds the gin engine serving every downstream and admin route.
func New(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceIDMiddleware())

	h := &handler{deps: deps}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "gproxy"})
	})

	// Provider-scoped routes.
	p := r.Group("/:provider")
	{
		p.POST("/v1/messages", h.claudeMessages)
		p.POST("/v1/messages/count_tokens", h.claudeCountTokens)
		p.POST("/v1/chat/completions", h.openAIChatCompletions)
		p.Any("/v1/responses/*rest", h.openAIResponses)
		p.POST("/v1/responses", h.openAIResponses)
		p.GET("/v1/models", h.providerModels)
		p.GET("/v1/models/:id", h.providerModelGet)
		p.GET("/v1beta/models", h.geminiModels)
		p.POST("/v1beta/models", h.geminiModels)
		p.GET("/v1beta/models/*rest", h.geminiModelAction)
		p.POST("/v1beta/models/*rest", h.geminiModelAction)
		p.GET("/oauth", h.oauthStart)
		p.GET("/oauth/callback", h.oauthCallback)
		p.GET("/usage", h.usage)
	}

	// Aggregate routes (no {provider}; model id carries "<provider>/<model>").
	r.GET("/v1/models", h.aggregateModels)
	r.POST("/v1/messages", h.aggregateClaudeMessages)
	r.POST("/v1/chat/completions", h.aggregateOpenAIChatCompletions)

	registerAdmin(r, deps)

	return r
}

// traceIDMiddleware injects a UUIDv7 trace id per request, propagated
// into every event this request produces (spec §6.1).
func traceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.NewV7()
		traceID := id.String()
		if err != nil {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Next()
	}
}

type handler struct {
	deps Deps
}

func traceID(c *gin.Context) string {
	v, _ := c.Get("trace_id")
	s, _ := v.(string)
	return s
}

// extractKey reads downstream caller key material from Authorization
// Bearer, x-api-key, x-goog-api-key, or ?key=, per spec §6.1.
func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if v := c.GetHeader("x-api-key"); v != "" {
		return v
	}
	if v := c.GetHeader("x-goog-api-key"); v != "" {
		return v
	}
	return c.Query("key")
}

// authenticate resolves the caller's key against the current snapshot's
// auth table, writing a 401 and aborting the chain on failure.
func (h *handler) authenticate(c *gin.Context) (engine.CallerIdentity, bool) {
	snap := h.deps.Snapshots.Current()
	key := extractKey(c)
	id, err := snap.Auth.Authenticate(key)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication"})
		return engine.CallerIdentity{}, false
	}
	return engine.CallerIdentity{UserID: id.UserID, UserKeyID: id.KeyID}, true
}

// googleKeyStyle reports whether the request looks like a Gemini-style
// caller (x-goog-api-key header or ?key= query param), used to
// disambiguate GET .../v1/models when no anthropic-version header is
// present (spec §6.1).
func googleKeyStyle(c *gin.Context) bool {
	return c.GetHeader("x-goog-api-key") != "" || c.Query("key") != ""
}

// outboundProxy resolves the outbound proxy URL for this request from
// global config, falling back to none.
func (h *handler) outboundProxy() string {
	snap := h.deps.Snapshots.Current()
	return snap.Config.OutboundProxyURL
}
