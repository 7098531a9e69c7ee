package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"restaurant-voice/internal/audit"
	"restaurant-voice/internal/auth"
	"restaurant-voice/internal/calls"
	"restaurant-voice/internal/reporting"
	"restaurant-voice/internal/tenant"
	"restaurant-voice/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DefaultSummaryWindow is used when /v1/calls/summary gets no range.
const DefaultSummaryWindow = 30 * 24 * time.Hour

type CallReader interface {
	Get(ctx context.Context, tenantID, id string) (calls.Record, error)
	List(ctx context.Context, tenantID string, limit int) ([]calls.Record, error)
}

type Summarizer interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

type PhoneMapper interface {
	Map(ctx context.Context, phone, tenantID string) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, tenant, category string) int
}

type Auditor interface {
	LogPhoneMapped(ctx context.Context, tenantID, phone string, a audit.Actor)
	LogCacheInvalidated(ctx context.Context, tenantID, category string, deleted int, a audit.Actor)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls     CallReader
	Reporting Summarizer
	Phones    PhoneMapper
	Cache     Invalidator
	Audit     Auditor
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Me echoes the identity carried by the access token.
func Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	tid, _ := auth.TenantID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "restaurant_id": tid, "role": role})
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	limit = calls.ClampLimit(limit)

	rows, err := h.Calls.List(c.Request.Context(), tenantID, limit)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows), "limit": limit})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	id := c.Param("call_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("get call failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// CallsSummary aggregates the caller's calls over ?from=&to= (RFC 3339).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	to := time.Now().UTC()
	from := to.Add(-DefaultSummaryWindow)
	var err error
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		from = to.Add(-DefaultSummaryWindow)
	}
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}

	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Phone mapping ---

type phoneMappingRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// PutPhoneMapping points a dialed number at the caller's restaurant.
// RBAC: owner, manager or super_admin.
func (h Handlers) PutPhoneMapping(c *gin.Context) {
	if h.Phones == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "phone mapping not configured"})
		return
	}
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	var req phoneMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}
	if err := h.Phones.Map(c.Request.Context(), req.PhoneNumber, tenantID); err != nil {
		if errors.Is(err, tenant.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid phone_number"})
			return
		}
		logger.FromGin(c).Error("phone mapping failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "phone mapping failed"})
		return
	}
	phone := tenant.NormalizePhone(req.PhoneNumber)
	if h.Audit != nil {
		h.Audit.LogPhoneMapped(c.Request.Context(), tenantID, phone, actor(c))
	}
	c.JSON(http.StatusOK, gin.H{"phone_number": phone, "restaurant_id": tenantID})
}

// --- Cache ---

type invalidateRequest struct {
	TenantID string `json:"restaurant_id" binding:"required"`
	Category string `json:"category"`
}

// InvalidateCache drops cached knowledge results after content changes.
// Guarded by the vendor secret, not a user token.
func (h Handlers) InvalidateCache(c *gin.Context) {
	if h.Cache == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cache not configured"})
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "restaurant_id required"})
		return
	}
	n := h.Cache.Invalidate(c.Request.Context(), req.TenantID, req.Category)
	if h.Audit != nil {
		h.Audit.LogCacheInvalidated(c.Request.Context(), req.TenantID, req.Category, n, actor(c))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}

func requireTenant(c *gin.Context) (string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "restaurant_id required"})
		return "", false
	}
	return tenantID, true
}

func actor(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}
