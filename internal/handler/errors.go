// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/session"
	"serial-debugger/internal/utils"
)

// statusFor maps the engine's error taxonomy onto an HTTP status
func statusFor(err error) int {
	var (
		encErr      *codec.EncodingError
		frameErr    *codec.FrameError
		checksumErr *codec.ChecksumError
		timeoutErr  *session.TimeoutError
		portErr     *protocol.PortError
	)

	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPortInUse),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrSessionFaulted):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidConfig),
		errors.Is(err, session.ErrInvalidInterval),
		errors.As(err, &encErr),
		errors.As(err, &frameErr):
		return http.StatusBadRequest
	case errors.As(err, &checksumErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &portErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error envelope with the mapped status
func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusFor(err), message, err)
}

// bindJSON decodes the request body into obj. Field rule violations are
// reported per field through the validation envelope; a body that is not
// JSON at all gets the plain bad request envelope.
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return false
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	utils.ValidationErrorResponse(c, fields)
	return false
}
