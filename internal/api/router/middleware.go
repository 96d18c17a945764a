package router

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/voice-journal/internal/api/dto"
	"github.com/cuongbtq/voice-journal/internal/api/handler"
	"github.com/cuongbtq/voice-journal/internal/auth"
	"github.com/cuongbtq/voice-journal/internal/metrics"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		)

		for _, e := range c.Errors {
			logger.Error("Request error",
				slog.String("error", e.Error()),
				slog.Uint64("type", uint64(e.Type)),
			)
		}
	}
}

// MetricsMiddleware records request counts and latency per route template
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CORSMiddleware sets the CORS headers on every response and answers preflight requests
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// AuthMiddleware requires a valid bearer token and stores its subject under handler.UserIDKey
func AuthMiddleware(verifier handler.Authenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var uid string
			uid, err = verifier.Verify(c.Request.Context(), token)
			if err == nil {
				c.Set(handler.UserIDKey, uid)
				c.Next()
				return
			}
		}

		logger.Warn("Authentication failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "Unauthorized - No valid session found",
		})
	}
}
