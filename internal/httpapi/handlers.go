package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"listing_filter/internal/domain"
)

func (s *Server) handleHealth(c echo.Context) error {
	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("health check: store unreachable", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = "unreachable"
		} else {
			body["store"] = "ok"
		}
	}
	if s.deps.Cache != nil {
		body["keyword_cache"] = s.deps.Cache.Info()
	}
	if s.deps.Detections != nil {
		body["detections"] = s.deps.Detections.Stats()
	}
	return c.JSON(status, body)
}

func (s *Server) handleCSRFToken(c echo.Context) error {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return ok(c, "", map[string]string{
		"csrf_token": token,
		"header":     csrfHeader,
	})
}

type realtimeRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRealtimeCheck(c echo.Context) error {
	var req realtimeRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("malformed request body")
	}
	res, err := s.deps.Realtime.Check(c.Request().Context(), req.Title)
	if err != nil {
		return err
	}
	return ok(c, "", res)
}

func (s *Server) handleCacheInfo(c echo.Context) error {
	return ok(c, "", s.deps.Cache.Info())
}

func (s *Server) handleCacheInvalidate(c echo.Context) error {
	if err := s.deps.Notifier.Publish(c.Request().Context(), "admin_invalidate"); err != nil {
		// local snapshot is already dropped; only the broadcast failed
		s.logger.Warn("cache invalidation broadcast failed", "error", err)
		return ok(c, "local cache invalidated; broadcast failed", s.deps.Cache.Info())
	}
	return ok(c, "keyword cache invalidated", s.deps.Cache.Info())
}

// handleFilter dispatches POST /api/filter on the action field.
func (s *Server) handleFilter(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("malformed request body")
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return domain.Invalid("action is required")
	}
	fn, found := s.actions[action]
	if !found {
		return domain.Invalid("unknown action %q", action)
	}

	message, data, err := fn(c, req)
	if err != nil {
		return err
	}
	return ok(c, message, data)
}

func operator(c echo.Context) string {
	if v := strings.TrimSpace(c.Request().Header.Get(operatorHeader)); v != "" {
		return v
	}
	return "anonymous"
}
