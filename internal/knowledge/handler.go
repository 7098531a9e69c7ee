package knowledge

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant-voice/internal/tenant"
	"restaurant-voice/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler serves vendor knowledge tool calls.
type Handler struct {
	Service *Service
}

func (h Handler) ToolCall(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	req, err := ParseToolCallRequest(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request format"})
		return
	}

	sr, err := h.Service.Prepare(ctx, req, c.GetHeader(tenant.HeaderName), c.Query(tenant.QueryParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.Service.Answer(ctx, sr)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		log.Error("knowledge query failed", "tenant", sr.TenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "knowledge query failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
