package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"listing_filter/internal/domain"
)

// Envelope wraps every response body.
type Envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func ok(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusOK, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func fail(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{
		Success:   false,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// handleError is the echo HTTPErrorHandler. Domain errors keep their
// message; everything else gets a generic one and is logged in full.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message, data := s.classify(err, c)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"status", status,
			"error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = fail(c, status, message, data)
	}
	if err != nil {
		s.logger.Error("writing error response", "error", err)
	}
}

func (s *Server) classify(err error, c echo.Context) (int, string, any) {
	var (
		verr *domain.ValidationError
		eerr *domain.EligibilityError
		ierr *domain.InfrastructureError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Msg, nil
	case errors.As(err, &eerr):
		return http.StatusUnprocessableEntity, eerr.Error(), map[string]any{
			"operation": eerr.Operation,
			"requested": eerr.Requested,
			"eligible":  eerr.Eligible,
		}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found", nil
	case errors.As(err, &ierr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "service temporarily unavailable, retry later", nil
	case errors.As(err, &herr):
		return herr.Code, httpMessage(herr.Code), nil
	}
	return http.StatusInternalServerError, "internal server error", nil
}

func httpMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "malformed request"
	case http.StatusForbidden:
		return "invalid or missing CSRF token"
	case http.StatusMethodNotAllowed:
		return "method not allowed"
	case http.StatusTooManyRequests:
		return "too many requests"
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "request failed"
}
