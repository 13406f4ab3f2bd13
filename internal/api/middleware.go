package api

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatkeeper/internal/storage"
)

const (
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "request_id"
	scopeKey     = "db_scope"
)

// RequestID reuses an incoming X-Request-Id or generates one, and echoes it
// back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request after the handler ran.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// DBScope gives each request its own storage.Scope. The connection, if one
// was taken, goes back to the pool when the handler returns.
func DBScope(db *sql.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := storage.NewScope(db)
		c.Set(scopeKey, scope)
		defer func() {
			if err := scope.Release(); err != nil {
				logger.Warn("release db connection",
					zap.String("request_id", c.GetString(requestIDKey)),
					zap.Error(err),
				)
			}
		}()
		c.Next()
	}
}

func querier(c *gin.Context, fallback *sql.DB) storage.Querier {
	if v, ok := c.Get(scopeKey); ok {
		if scope, ok := v.(*storage.Scope); ok {
			return scope
		}
	}
	return fallback
}
