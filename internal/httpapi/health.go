package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	healthCheckTimeout      = 2 * time.Second
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"
)

// HealthChecker verifies the backing database.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandlers struct {
	checker HealthChecker
	logger  *zap.Logger
}

func NewHealthHandlers(checker HealthChecker, logger *zap.Logger) *HealthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandlers{checker: checker, logger: logger}
}

// Health reports 200 when the database answers a ping and 503 otherwise.
func (handlers *HealthHandlers) Health(ginContext *gin.Context) {
	pingContext, cancel := context.WithTimeout(ginContext.Request.Context(), healthCheckTimeout)
	defer cancel()
	if pingErr := handlers.checker.Ping(pingContext); pingErr != nil {
		handlers.logger.Warn("health_ping", zap.Error(pingErr))
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{"status": healthStatusUnavailable})
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
}
