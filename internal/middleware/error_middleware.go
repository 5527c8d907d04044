package middleware

import (
	"net/http"

	"sentinal-call/internal/transport/httpdto"
	"sentinal-call/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler logs errors attached by handlers. A response is only written
// when the handler did not write one itself.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.Ctx(c.Request.Context()).Error("request error",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
		}
		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", httpdto.CodeInternal))
		}
	}
}
