package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
)

// apiResponse wraps every successful reply.
type apiResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// errorResponse is the body of every failed reply.
type errorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
}

func success(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, apiResponse{
		Timestamp: time.Now().UTC(),
		Status:    http.StatusOK,
		Message:   message,
		Data:      data,
	})
}

// ErrorHandler renders domain errors with their code and status. Echo's own
// errors keep their status; anything else becomes INTERNAL_ERROR.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	resp := toErrorResponse(err)
	if resp.Status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(resp.Status)
	} else {
		werr = c.JSON(resp.Status, resp)
	}
	if werr != nil {
		log.Error().Err(werr).Msg("failed to write error response")
	}
}

func toErrorResponse(err error) errorResponse {
	var de *domain.Error
	if errors.As(err, &de) {
		return errorResponse{ErrorCode: de.Code, Message: de.Message, Status: de.Status}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return errorResponse{ErrorCode: httpErrorCode(he.Code), Message: msg, Status: he.Code}
	}

	internal := domain.ErrInternal(err)
	return errorResponse{ErrorCode: internal.Code, Message: internal.Message, Status: internal.Status}
}

// httpErrorCode derives a code like NOT_FOUND from a status.
func httpErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrValidation.Code
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated.Code
	case http.StatusForbidden:
		return domain.ErrForbidden.Code
	}
	text := http.StatusText(status)
	if text == "" {
		return "HTTP_ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
