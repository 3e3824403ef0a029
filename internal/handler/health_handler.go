// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-debugger/internal/config"
	"serial-debugger/internal/model"
	"serial-debugger/internal/service"
	"serial-debugger/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	serialService *service.SerialService
	config        *config.Config
	startedAt     time.Time
	viewers       *WebSocketHandler
	logger        *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(serialService *service.SerialService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		serialService: serialService,
		config:        config,
		startedAt:     time.Now(),
		logger:        utils.NewServiceLogger(logger, "health-handler"),
	}
}

// WithViewers adds the live viewer count of ws to the health report
func (h *HealthHandler) WithViewers(ws *WebSocketHandler) *HealthHandler {
	h.viewers = ws
	return h
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get service health including session and port enumeration status
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	open, faulted := 0, 0
	for _, st := range h.serialService.ListSessions() {
		if st.State == model.SessionStateFaulted {
			faulted++
		} else {
			open++
		}
	}
	sessions := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"open":    open,
			"faulted": faulted,
		},
	}
	if faulted > 0 {
		sessions.Status = "degraded"
		sessions.Message = "one or more sessions lost their port"
	}
	health.Checks["sessions"] = sessions

	if ports, err := h.serialService.ListPorts(c.Request.Context()); err != nil {
		health.Checks["port_enumeration"] = CheckResult{Status: "unhealthy", Message: err.Error()}
		health.Status = "degraded"
	} else {
		health.Checks["port_enumeration"] = CheckResult{
			Status: "healthy",
			Data:   map[string]interface{}{"ports": len(ports)},
		}
	}

	if h.viewers != nil {
		stats := h.viewers.GetConnectionStats()
		health.Checks["viewers"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"connections": stats.TotalConnections,
				"sessions":    len(stats.BySession),
			},
		}
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
