package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/counselbridge-backend/internal/platform/apierr"
	"github.com/yungbote/counselbridge-backend/internal/services"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondOK(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// RespondError maps service errors onto the HTTP surface. Unknown errors
// become opaque 500s so internals never leak to the client.
func RespondError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		c.JSON(ae.Status, ErrorEnvelope{Error: APIError{Code: ae.Code, Message: ae.Error()}})
		return
	}
	var malformed *services.MalformedExtractionError
	var timeout *services.ServiceTimeoutError
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorEnvelope{Error: APIError{Code: "session_not_found", Message: "session not found"}})
	case errors.Is(err, services.ErrSessionBusy):
		c.JSON(http.StatusConflict, ErrorEnvelope{Error: APIError{Code: "session_busy", Message: "another turn for this session is in progress"}})
	case errors.Is(err, services.ErrConflictUnresolved):
		c.JSON(http.StatusConflict, ErrorEnvelope{Error: APIError{Code: "conflicts_unresolved", Message: "boundary conflicts must be clarified before a report"}})
	case errors.Is(err, services.ErrReportNotReady):
		c.JSON(http.StatusConflict, ErrorEnvelope{Error: APIError{Code: "report_not_ready", Message: "the session has not reached a proposed solution yet"}})
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, ErrorEnvelope{Error: APIError{Code: "upstream_timeout", Message: timeout.Error()}})
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadGateway, ErrorEnvelope{Error: APIError{Code: "extraction_failed", Message: "the extraction service returned unusable output"}})
	default:
		c.JSON(http.StatusInternalServerError, ErrorEnvelope{Error: APIError{Code: "internal", Message: "internal error"}})
	}
}
