package webhook

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant-voice/pkg/logger"
)

// HeaderSecret carries the shared secret configured on the vendor side.
const HeaderSecret = "X-Vapi-Secret"

// MaxBodyBytes caps server message bodies.
const MaxBodyBytes = 1 << 20

// RequireSecret rejects requests whose secret header does not match. An
// empty configured secret rejects everything.
func RequireSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderSecret))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			logger.FromGin(c).Warn("rejected webhook: bad secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
			return
		}
		c.Next()
	}
}

// Handler adapts the Dispatcher to gin. The vendor always gets 200.
type Handler struct {
	Dispatcher *Dispatcher
}

func (h Handler) ServerMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		ack Ack
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic handling server message: %v", p)
			}
		}()
		var body []byte
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes))
		if err != nil {
			err = fmt.Errorf("read body: %w", err)
			return
		}
		ack, err = h.Dispatcher.Dispatch(logger.With(ctx, logger.FromGin(c)), body)
	}()

	c.JSON(http.StatusOK, h.Dispatcher.Respond(ctx, ack, err))
}
