package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const DefaultRateLimit = 10

// RateLimit allows limit requests per second per client IP.
func RateLimit(limit int64) gin.HandlerFunc {
	if limit <= 0 {
		limit = DefaultRateLimit
	}

	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: 1 * time.Second,
		Limit:  limit,
	})
	return mgin.NewMiddleware(rateLimiter)
}
