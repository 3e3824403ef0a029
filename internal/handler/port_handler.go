// internal/handler/port_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-debugger/internal/service"
	"serial-debugger/internal/utils"
)

// PortHandler lists the serial ports of the host
type PortHandler struct {
	serialService *service.SerialService
	logger        *utils.ServiceLogger
}

// NewPortHandler creates a new port handler
func NewPortHandler(serialService *service.SerialService, logger *zap.Logger) *PortHandler {
	return &PortHandler{
		serialService: serialService,
		logger:        utils.NewServiceLogger(logger, "port-handler"),
	}
}

// RegisterRoutes registers port routes
func (h *PortHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
}

// ListPorts lists available serial ports
// @Summary List serial ports
// @Description Enumerate serial ports with USB details when the platform provides them
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]discovery.PortInfo} "Ports retrieved"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *PortHandler) ListPorts(c *gin.Context) {
	ports, err := h.serialService.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Port enumeration failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", ports)
}
