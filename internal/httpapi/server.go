// Package httpapi exposes the filter engine as JSON over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"listing_filter/internal/bulk"
	"listing_filter/internal/config"
	"listing_filter/internal/detection"
	"listing_filter/internal/filter"
	"listing_filter/internal/keyword"
)

const (
	csrfHeader     = "X-CSRF-Token"
	operatorHeader = "X-Operator"
)

// CacheInspector reports keyword cache state. *keyword.Cache implements it.
type CacheInspector interface {
	Info() keyword.Info
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DetectionStats reports the detection counter. *detection.Counter implements it.
type DetectionStats interface {
	Stats() detection.Stats
}

// Deps are the components the HTTP surface dispatches to.
type Deps struct {
	Service    *filter.Service
	Bulk       *bulk.Coordinator
	Integrated *filter.Integrated
	Realtime   *filter.RealtimeChecker
	Cache      CacheInspector
	Notifier   filter.ChangeNotifier
	Store      Pinger
	Detections DetectionStats
	Logger     *slog.Logger
}

type Server struct {
	echo    *echo.Echo
	deps    Deps
	cfg     config.ServerConfig
	actions map[string]actionFunc
	logger  *slog.Logger
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.CSRFCookieName == "" {
		cfg.CSRFCookieName = "_csrf"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "http"),
	}
	s.actions = s.actionTable()
	e.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	if len(s.cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost},
			AllowHeaders:     []string{echo.HeaderContentType, csrfHeader, operatorHeader},
			AllowCredentials: true,
		}))
	}
	if s.cfg.RequestTimeout.Duration > 0 {
		e.Use(middleware.ContextTimeout(s.cfg.RequestTimeout.Duration))
	}

	e.GET("/health", s.handleHealth)

	csrf := middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:" + csrfHeader,
		CookieName:     s.cfg.CSRFCookieName,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   s.cfg.CSRFSecure,
		CookieSameSite: http.SameSiteStrictMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden).SetInternal(err)
		},
	})

	// per-route rather than group middleware, so a wrong method still gets 405
	e.GET("/api/csrf-token", s.handleCSRFToken, csrf)
	e.POST("/api/filter", s.handleFilter, csrf)
	e.POST("/api/realtime-check", s.handleRealtimeCheck, append([]echo.MiddlewareFunc{csrf}, s.realtimeLimiter()...)...)

	e.GET("/admin/cache-info", s.handleCacheInfo, csrf)
	e.POST("/admin/cache/invalidate", s.handleCacheInvalidate, csrf)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				s.logger.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Debug("request", attrs...)
			return nil
		},
	})
}

// realtimeLimiter throttles keystroke-rate checks per client IP.
func (s *Server) realtimeLimiter() []echo.MiddlewareFunc {
	if s.cfg.RealtimeRate <= 0 {
		return nil
	}
	burst := s.cfg.RealtimeBurst
	if burst <= 0 {
		burst = int(s.cfg.RealtimeRate)
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.cfg.RealtimeRate),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return []echo.MiddlewareFunc{middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests)
		},
	})}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.echo.Shutdown(shutdownCtx)
}
