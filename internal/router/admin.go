package router

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/pool"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage"
)

// registerAdmin wires spec §6.3's admin surface: CRUD on providers,
// credentials, users, keys, global config, a /reload, a /logs query,
// and an /events/ws websocket feed off C1. Grounded on the teacher's
// management.Handler: a key-checking Middleware() gin.HandlerFunc
// guarding one route group, persist-then-respond handlers underneath.
func registerAdmin(r *gin.Engine, deps Deps) {
	a := &adminHandler{deps: deps}
	g := r.Group("/admin", a.middleware())

	g.GET("/providers", a.listProviders)
	g.PUT("/providers/:id", a.putProvider)
	g.DELETE("/providers/:id", a.deleteProvider)
	g.POST("/providers/:id/enabled", a.setProviderEnabled)

	g.GET("/providers/:id/credentials", a.listCredentials)
	g.PUT("/credentials/:id", a.putCredential)
	g.DELETE("/credentials/:id", a.deleteCredential)
	g.POST("/credentials/:id/enabled", a.setCredentialEnabled)

	g.GET("/users", a.listUsers)
	g.PUT("/users/:id", a.putUser)
	g.DELETE("/users/:id", a.deleteUser)
	g.POST("/users/:id/enabled", a.setUserEnabled)

	g.GET("/users/:id/keys", a.listUserKeys)
	g.PUT("/keys/:id", a.putUserKey)
	g.DELETE("/keys/:id", a.deleteUserKey)
	g.POST("/keys/:id/enabled", a.setUserKeyEnabled)

	g.GET("/config", a.getGlobalConfig)
	g.PUT("/config", a.putGlobalConfig)

	g.POST("/reload", a.reload)
	g.GET("/logs", a.queryLogs)
	g.GET("/events/ws", a.eventsWS)
}

type adminHandler struct {
	deps Deps
}

// middleware checks the admin key from x-admin-key, Authorization:
// Bearer, or ?admin_key= against deps.AdminAuth (spec §6.3).
func (a *adminHandler) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("x-admin-key")
		if key == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				key = auth[7:]
			}
		}
		if key == "" {
			key = c.Query("admin_key")
		}
		if !a.deps.AdminAuth.Check(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authentication"})
			return
		}
		c.Next()
	}
}

// ReloadSnapshot rebuilds the atomic snapshot from storage and
// publishes it, the shared last step of every mutating admin call and
// of the explicit /reload route (spec §4.2's "writers build a new
// value and atomically publish").
func ReloadSnapshot(ctx context.Context, deps Deps) error {
	snap, err := deps.Store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	next := &snapshot.Snapshot{
		Providers: make(map[string]model.Provider, len(snap.Providers)),
		Disallow:  make(map[string]model.DisallowEntry, len(snap.Disallow)),
		Config:    snap.Config,
		Pools:     make(map[string]*pool.Pool, len(snap.Providers)),
		Auth:      authtable.New(),
	}
	credsByProvider := make(map[string][]model.Credential)
	for _, cred := range snap.Credentials {
		credsByProvider[cred.ProviderID] = append(credsByProvider[cred.ProviderID], cred)
	}
	for _, p := range snap.Providers {
		next.Providers[p.ID] = p
		pl := pool.New()
		pl.Reset(credsByProvider[p.ID])
		next.Pools[p.ID] = pl
	}
	for _, d := range snap.Disallow {
		next.Disallow[d.CredentialID+"|"+d.Scope.Model] = d
	}
	next.Auth.Reset(snap.Users, snap.UserKeys)
	deps.Snapshots.Publish(next)
	return nil
}

func (a *adminHandler) reloadOrFail(c *gin.Context) bool {
	if err := ReloadSnapshot(c.Request.Context(), a.deps); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (a *adminHandler) listProviders(c *gin.Context) {
	list, err := a.deps.Store.ListProviders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *adminHandler) putProvider(c *gin.Context) {
	var p model.Provider
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.ID = c.Param("id")
	p.UpdatedAt = time.Now()
	if err := a.deps.Store.UpsertProvider(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, p)
	}
}

func (a *adminHandler) deleteProvider(c *gin.Context) {
	if err := a.deps.Store.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *adminHandler) setProviderEnabled(c *gin.Context) {
	a.setEnabled(c, a.deps.Store.SetProviderEnabled)
}

func (a *adminHandler) listCredentials(c *gin.Context) {
	list, err := a.deps.Store.ListCredentials(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *adminHandler) putCredential(c *gin.Context) {
	var cred model.Credential
	if err := c.ShouldBindJSON(&cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred.ID = c.Param("id")
	cred.UpdatedAt = time.Now()
	if !cred.Secret.MatchesVariant(a.providerVariant(c.Request.Context(), cred.ProviderID)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential secret kind does not match provider variant"})
		return
	}
	if err := a.deps.Store.UpsertCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, cred)
	}
}

func (a *adminHandler) providerVariant(ctx context.Context, providerID string) model.ProviderVariant {
	providers, err := a.deps.Store.ListProviders(ctx)
	if err != nil {
		return ""
	}
	for _, p := range providers {
		if p.ID == providerID {
			return p.Variant
		}
	}
	return ""
}

func (a *adminHandler) deleteCredential(c *gin.Context) {
	if err := a.deps.Store.DeleteCredential(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *adminHandler) setCredentialEnabled(c *gin.Context) {
	a.setEnabled(c, a.deps.Store.SetCredentialEnabled)
}

func (a *adminHandler) listUsers(c *gin.Context) {
	list, err := a.deps.Store.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *adminHandler) putUser(c *gin.Context) {
	var u model.User
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u.ID = c.Param("id")
	if err := a.deps.Store.UpsertUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, u)
	}
}

func (a *adminHandler) deleteUser(c *gin.Context) {
	if err := a.deps.Store.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *adminHandler) setUserEnabled(c *gin.Context) {
	a.setEnabled(c, a.deps.Store.SetUserEnabled)
}

func (a *adminHandler) listUserKeys(c *gin.Context) {
	list, err := a.deps.Store.ListUserKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *adminHandler) putUserKey(c *gin.Context) {
	var k model.UserKey
	if err := c.ShouldBindJSON(&k); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	k.ID = c.Param("id")
	if err := a.deps.Store.UpsertUserKey(c.Request.Context(), k); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, k)
	}
}

func (a *adminHandler) deleteUserKey(c *gin.Context) {
	if err := a.deps.Store.DeleteUserKey(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *adminHandler) setUserKeyEnabled(c *gin.Context) {
	a.setEnabled(c, a.deps.Store.SetUserKeyEnabled)
}

// setEnabled is the shared body for the four */:id/enabled toggles.
func (a *adminHandler) setEnabled(c *gin.Context, set func(ctx context.Context, id string, enabled bool) error) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := set(c.Request.Context(), c.Param("id"), body.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *adminHandler) getGlobalConfig(c *gin.Context) {
	cfg, err := a.deps.Store.GetGlobalConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (a *adminHandler) putGlobalConfig(c *gin.Context) {
	var cfg model.GlobalConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.deps.Store.UpsertGlobalConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, cfg)
	}
}

func (a *adminHandler) reload(c *gin.Context) {
	if a.reloadOrFail(c) {
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
	}
}

func (a *adminHandler) queryLogs(c *gin.Context) {
	filter := storage.LogFilter{Provider: c.Query("provider")}
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}
	if sinceStr := c.Query("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = t
		}
	}
	logs, err := a.deps.Store.QueryLogs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// eventsWS streams JSON-encoded C1 events over a websocket. Built on
// golang.org/x/net/websocket rather than a dedicated third-party
// websocket library, since it's already a transitive module of the
// golang.org/x/net dependency this repo otherwise pulls in for OAuth.
func (a *adminHandler) eventsWS(c *gin.Context) {
	deps := a.deps
	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		sub, unsubscribe := deps.Hub.Subscribe()
		defer unsubscribe()
		for {
			select {
			case rec, open := <-sub:
				if !open {
					return
				}
				if err := websocket.JSON.Send(ws, rec); err != nil {
					return
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	}).ServeHTTP(c.Writer, c.Request)
}
