package main

import (
	"net/http"

	"restaurant-voice/internal/httpapi"
	"restaurant-voice/internal/knowledge"
	"restaurant-voice/internal/metrics"
	"restaurant-voice/internal/rbac"
	"restaurant-voice/internal/webhook"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW     gin.HandlerFunc
	vapiSecret string
	webhook    webhook.Handler
	knowledge  *knowledge.Handler
	api        httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", httpapi.Health)
	r.GET("/metrics", metrics.Handler())

	// Vendor webhooks, authenticated by the shared secret header.
	vapi := r.Group("/vapi")
	vapi.Use(webhook.RequireSecret(d.vapiSecret))
	{
		vapi.POST("/server", d.webhook.ServerMessage)
		vapi.POST("/cache/invalidate", d.api.InvalidateCache)
		if d.knowledge != nil {
			vapi.POST("/knowledge-base", d.knowledge.ToolCall)
		} else {
			vapi.POST("/knowledge-base", func(c *gin.Context) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge base not configured"})
			})
		}
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	v1.Use(rbac.RequireTenant())
	{
		v1.GET("/me", httpapi.Me)

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleManager, rbac.RoleStaff, rbac.RoleSupport))
		{
			calls.GET("", d.api.ListCalls)
			calls.GET("/summary", d.api.CallsSummary)
			calls.GET("/:call_id", d.api.GetCall)
		}

		// Only owner/manager/super_admin may repoint a phone number.
		// Hidden platform_support is intentionally NOT included.
		v1.PUT("/phone-mapping", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleManager), d.api.PutPhoneMapping)
	}
}
