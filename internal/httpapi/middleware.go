package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	logEventHTTP    = "http"
	healthCheckPath = "/healthz"
)

// RequestLogger logs one line per request. Server errors log at error level,
// health checks at debug so container checks do not flood the kiosk log.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		status := context.Writer.Status()
		fields := []zap.Field{
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.String("route", context.FullPath()),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		}
		if principal, found := PrincipalFromContext(context); found {
			fields = append(fields, zap.String("principal", principal))
		}
		if len(context.Errors) > 0 {
			fields = append(fields, zap.String("errors", context.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(logEventHTTP, fields...)
		case context.Request.URL.Path == healthCheckPath:
			logger.Debug(logEventHTTP, fields...)
		default:
			logger.Info(logEventHTTP, fields...)
		}
	}
}
