// internal/handler/session_handler.go
package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/config"
	"serial-debugger/internal/model"
	"serial-debugger/internal/service"
	"serial-debugger/internal/utils"
)

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	serialService *service.SerialService
	config        *config.Config
	logger        *utils.ServiceLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(serialService *service.SerialService, config *config.Config, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		serialService: serialService,
		config:        config,
		logger:        utils.NewServiceLogger(logger, "session-handler"),
	}
}

// RegisterRoutes registers session-related routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.OpenSession)
		sessions.GET("", h.ListSessions)

		sessionRoutes := sessions.Group("/:id")
		{
			sessionRoutes.GET("", h.GetSession)
			sessionRoutes.DELETE("", h.CloseSession)
			sessionRoutes.PUT("/config", h.Reconfigure)
			sessionRoutes.POST("/send", h.Send)
			sessionRoutes.POST("/files", h.SendFile)
			sessionRoutes.GET("/transfers/:transfer_id", h.GetTransfer)
			sessionRoutes.DELETE("/transfers/:transfer_id", h.CancelTransfer)
			sessionRoutes.POST("/autosend", h.StartAutoSend)
			sessionRoutes.DELETE("/autosend", h.StopAutoSend)
			sessionRoutes.GET("/counters", h.GetCounters)
			sessionRoutes.POST("/counters/reset", h.ResetCounters)
		}
	}
}

// SendResponse reports the outcome of a send
type SendResponse struct {
	BytesWritten int           `json:"bytes_written"`
	Hex          string        `json:"hex"`
	Response     *EventMessage `json:"response,omitempty"`
}

// CountersResponse carries the byte counters of a session
type CountersResponse struct {
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

// OpenSession opens a serial port
// @Summary Open a session
// @Description Open a serial port; omitted line parameters use the configured defaults
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body service.OpenSessionRequest true "Port and line parameters"
// @Success 201 {object} utils.APIResponse{data=model.SessionStatus} "Session opened"
// @Failure 400 {object} utils.APIResponse "Invalid configuration"
// @Failure 409 {object} utils.APIResponse "Port already in use"
// @Failure 502 {object} utils.APIResponse "Port could not be opened"
// @Router /sessions [post]
func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req service.OpenSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Origin = c.ClientIP()

	s, err := h.serialService.OpenSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, "Failed to open session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Session opened", s.Status())
}

// ListSessions lists every session
// @Summary List sessions
// @Description Get the status of every open or faulted session
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.SessionStatus} "Sessions retrieved"
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved", h.serialService.ListSessions())
}

// GetSession returns the status of one session
// @Summary Get session status
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.SessionStatus} "Session status"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	status, err := h.serialService.Status(c.Param("id"))
	if err != nil {
		respondError(c, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session status", status)
}

// CloseSession closes a session
// @Summary Close a session
// @Description Stop background work, release the port and notify viewers
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse "Session closed"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id} [delete]
func (h *SessionHandler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.serialService.CloseSession(id, c.ClientIP()); err != nil {
		respondError(c, "Failed to close session", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session closed", gin.H{"id": id})
}

// Reconfigure changes line parameters of an open session
// @Summary Reconfigure a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body model.PortUpdate true "Fields to change"
// @Success 200 {object} utils.APIResponse{data=model.PortConfig} "Port reconfigured"
// @Failure 400 {object} utils.APIResponse "Invalid configuration"
// @Failure 502 {object} utils.APIResponse "Port rejected the configuration"
// @Router /sessions/{id}/config [put]
func (h *SessionHandler) Reconfigure(c *gin.Context) {
	var update model.PortUpdate
	if !bindJSON(c, &update) {
		return
	}

	cfg, err := h.serialService.Reconfigure(c.Param("id"), update)
	if err != nil {
		respondError(c, "Failed to reconfigure port", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Port reconfigured", cfg)
}

// Send writes a payload to the port
// @Summary Send data
// @Description Encode data in the given mode and write it; optionally wait for the next received data
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body service.SendPayload true "Payload"
// @Success 200 {object} utils.APIResponse{data=SendResponse} "Data sent"
// @Failure 400 {object} utils.APIResponse "Payload could not be encoded"
// @Failure 504 {object} utils.APIResponse "No response in time"
// @Router /sessions/{id}/send [post]
func (h *SessionHandler) Send(c *gin.Context) {
	var payload service.SendPayload
	if !bindJSON(c, &payload) {
		return
	}

	req, err := payload.Request()
	if err != nil {
		respondError(c, "Invalid payload", err)
		return
	}

	res, err := h.serialService.Send(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, "Send failed", err)
		return
	}

	out := SendResponse{BytesWritten: res.BytesWritten, Hex: codec.FormatHex(res.Wire)}
	if res.Response != nil {
		out.Response = NewEventMessage(res.Response)
	}
	utils.SuccessResponse(c, http.StatusOK, "Data sent", out)
}

// SendFile uploads a file and streams it to the port
// @Summary Send a file
// @Description Upload a file that is written to the port in chunks
// @Tags Transfers
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Session ID"
// @Param file formData file true "File to send"
// @Param chunk_size query int false "Chunk size in bytes"
// @Success 202 {object} utils.APIResponse{data=model.TransferProgress} "Transfer started"
// @Failure 413 {object} utils.APIResponse "File too large"
// @Router /sessions/{id}/files [post]
func (h *SessionHandler) SendFile(c *gin.Context) {
	chunkSize := 0
	if raw := c.Query("chunk_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "chunk_size must be a positive integer", err)
			return
		}
		chunkSize = n
	}

	header, err := c.FormFile("file")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "file is required", err)
		return
	}
	limit := h.config.Transfer.MaxUploadSize
	if limit > 0 && header.Size > limit {
		utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large",
			fmt.Errorf("%d bytes exceeds the %d byte limit", header.Size, limit))
		return
	}

	f, err := header.Open()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to read upload", err)
		return
	}
	defer f.Close()

	// the upload's temp file is removed once the request ends
	data, err := io.ReadAll(f)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to read upload", err)
		return
	}

	t, err := h.serialService.SendFile(c.Param("id"), header.Filename, bytes.NewReader(data), int64(len(data)), chunkSize)
	if err != nil {
		respondError(c, "Failed to start transfer", err)
		return
	}

	h.logger.Info("File transfer started",
		zap.String("session_id", c.Param("id")),
		zap.String("transfer_id", t.ID()),
		zap.Int("bytes", len(data)),
	)
	utils.SuccessResponse(c, http.StatusAccepted, "Transfer started", t.Progress())
}

// GetTransfer returns transfer progress
// @Summary Get transfer progress
// @Tags Transfers
// @Produce json
// @Param id path string true "Session ID"
// @Param transfer_id path string true "Transfer ID"
// @Success 200 {object} utils.APIResponse{data=model.TransferProgress} "Transfer progress"
// @Failure 404 {object} utils.APIResponse "Transfer not found"
// @Router /sessions/{id}/transfers/{transfer_id} [get]
func (h *SessionHandler) GetTransfer(c *gin.Context) {
	t, err := h.serialService.Transfer(c.Param("id"), c.Param("transfer_id"))
	if err != nil {
		respondError(c, "Transfer not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Transfer progress", t.Progress())
}

// CancelTransfer cancels a running transfer
// @Summary Cancel a transfer
// @Tags Transfers
// @Produce json
// @Param id path string true "Session ID"
// @Param transfer_id path string true "Transfer ID"
// @Success 200 {object} utils.APIResponse{data=model.TransferProgress} "Cancel requested"
// @Failure 404 {object} utils.APIResponse "Transfer not found"
// @Router /sessions/{id}/transfers/{transfer_id} [delete]
func (h *SessionHandler) CancelTransfer(c *gin.Context) {
	t, err := h.serialService.CancelTransfer(c.Param("id"), c.Param("transfer_id"))
	if err != nil {
		respondError(c, "Transfer not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Cancel requested", t.Progress())
}

// StartAutoSend starts periodic sending
// @Summary Start auto-send
// @Description Re-send a payload every interval_ms milliseconds until stopped
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body service.AutoSendRequest true "Payload and interval"
// @Success 200 {object} utils.APIResponse{data=model.AutoSendStatus} "Auto-send started"
// @Failure 400 {object} utils.APIResponse "Invalid payload or interval"
// @Router /sessions/{id}/autosend [post]
func (h *SessionHandler) StartAutoSend(c *gin.Context) {
	var req service.AutoSendRequest
	if !bindJSON(c, &req) {
		return
	}

	template, err := req.Request()
	if err != nil {
		respondError(c, "Invalid payload", err)
		return
	}

	id := c.Param("id")
	if err := h.serialService.StartAutoSend(id, template, req.Interval()); err != nil {
		respondError(c, "Failed to start auto-send", err)
		return
	}

	status, err := h.serialService.Status(id)
	if err != nil {
		respondError(c, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Auto-send started", status.AutoSend)
}

// StopAutoSend stops periodic sending
// @Summary Stop auto-send
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.AutoSendStatus} "Auto-send stopped"
// @Router /sessions/{id}/autosend [delete]
func (h *SessionHandler) StopAutoSend(c *gin.Context) {
	id := c.Param("id")
	if err := h.serialService.StopAutoSend(id); err != nil {
		respondError(c, "Session not found", err)
		return
	}

	status, err := h.serialService.Status(id)
	if err != nil {
		respondError(c, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Auto-send stopped", status.AutoSend)
}

// GetCounters returns the byte counters
// @Summary Get byte counters
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=CountersResponse} "Counters"
// @Router /sessions/{id}/counters [get]
func (h *SessionHandler) GetCounters(c *gin.Context) {
	status, err := h.serialService.Status(c.Param("id"))
	if err != nil {
		respondError(c, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Counters", CountersResponse{
		BytesSent:     status.BytesSent,
		BytesReceived: status.BytesReceived,
	})
}

// ResetCounters zeroes the byte counters
// @Summary Reset byte counters
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=CountersResponse} "Counters reset"
// @Router /sessions/{id}/counters/reset [post]
func (h *SessionHandler) ResetCounters(c *gin.Context) {
	if err := h.serialService.ResetCounters(c.Param("id")); err != nil {
		respondError(c, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Counters reset", CountersResponse{})
}
