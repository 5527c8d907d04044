package middleware

import (
	"net/http"
	"strconv"

	"sentinal-call/internal/redis"
	"sentinal-call/internal/services"
	"sentinal-call/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// CallRateLimitMiddleware limits call initiations per user.
// Should be applied to call initiation endpoints after auth middleware
func CallRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok || limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.AllowCall(c.Request.Context(), userID.String())
		if err != nil {
			// Redis outage must not block calling.
			_ = c.Error(err)
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("call rate limit exceeded", httpdto.CodeRateLimited))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
