package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rickgao/chatrelay/internal/history"
)

// WelcomeText is served on GET /.
const WelcomeText = "Welcome to the API"

// Config configures the REST API.
type Config struct {
	HistoryLimit int    // Messages returned by GET /api/v1/database
	StaticDir    string // Optional directory served for unmatched GETs
}

// Server is the echo application behind the relay's non-upgrade requests.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	store  history.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewServer creates the REST API. A nil clock uses the real clock.
func NewServer(cfg Config, store history.Store, clock clockwork.Clock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: logger.With("component", "httpapi"),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.Pre(middleware.RemoveTrailingSlash())
	s.echo.Use(s.requestLogger())
	s.echo.Use(middleware.Recover())

	s.echo.GET("/", s.handleWelcome)

	db := s.echo.Group("/api/v1/database")
	db.GET("", s.handleFetch)
	db.POST("/post", s.handleAppend)

	// Static files only see paths no API route matched.
	if s.cfg.StaticDir != "" {
		s.echo.GET("/*", echo.NotFoundHandler, middleware.StaticWithConfig(middleware.StaticConfig{
			Root: s.cfg.StaticDir,
		}))
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

func (s *Server) handleWelcome(c echo.Context) error {
	return c.String(http.StatusOK, WelcomeText)
}
