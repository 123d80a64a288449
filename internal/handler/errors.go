// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"winder-service/internal/model"
	"winder-service/internal/protocol"
	"winder-service/internal/repository"
	"winder-service/internal/service"
	"winder-service/internal/utils"
	"winder-service/internal/winding"
)

// respondError maps service and link failures onto HTTP statuses
func respondError(c *gin.Context, message string, err error) {
	var (
		connectErr    *protocol.ConnectError
		disconnectErr *protocol.DisconnectError
		sendErr       *protocol.SendError
	)

	switch {
	case errors.As(err, &connectErr):
		utils.ErrorResponseWithCode(c, connectStatus(connectErr.Kind), string(connectErr.Kind), message, err)

	case errors.As(err, &disconnectErr):
		utils.ErrorResponseWithCode(c, http.StatusBadGateway, "PORT_CLOSE_FAILED", message, err)

	case errors.As(err, &sendErr):
		switch {
		case sendErr.Kind == protocol.SendErrorNotConnected:
			utils.ErrorResponseWithCode(c, http.StatusConflict, "LINK_NOT_READY", message, err)
		case errors.Is(err, protocol.ErrWriteTimeout):
			utils.ErrorResponseWithCode(c, http.StatusGatewayTimeout, "WRITE_TIMEOUT", message, err)
		case errors.Is(err, protocol.ErrWriteBusy):
			utils.ErrorResponseWithCode(c, http.StatusServiceUnavailable, "WRITE_BUSY", message, err)
		default:
			utils.ErrorResponseWithCode(c, http.StatusBadGateway, "LINK_IO_ERROR", message, err)
		}

	case errors.Is(err, winding.ErrAlreadyRunning):
		utils.ErrorResponse(c, http.StatusConflict, message, err)

	case errors.Is(err, model.ErrInvalidConfig),
		errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, service.ErrNoPort):
		utils.ErrorResponse(c, http.StatusBadRequest, message, err)

	case errors.Is(err, repository.ErrSessionNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, message, err)

	case errors.Is(err, service.ErrHistoryDisabled):
		utils.ErrorResponse(c, http.StatusServiceUnavailable, message, err)

	case errors.Is(err, context.DeadlineExceeded):
		utils.ErrorResponse(c, http.StatusGatewayTimeout, message, err)

	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}

func connectStatus(kind protocol.ConnectErrorKind) int {
	switch kind {
	case protocol.ConnectErrorBusy:
		return http.StatusConflict
	case protocol.ConnectErrorNotFound:
		return http.StatusNotFound
	case protocol.ConnectErrorPermission:
		return http.StatusForbidden
	case protocol.ConnectErrorInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// respondBindError reports request body problems, listing fields when the
// validator rejected them
func respondBindError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	fields := make(map[string]string, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields[toSnakeCase(fieldErr.Field())] = validationMessage(fieldErr)
	}
	utils.ValidationErrorResponse(c, fields)
}

func validationMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fieldErr.Param()
	case "lte":
		return "must be at most " + fieldErr.Param()
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(name[i-1] >= 'A' && name[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
