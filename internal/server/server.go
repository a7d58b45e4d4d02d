package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// New builds the HTTP surface over a wired App.
func New(app *App) *echo.Echo {
	cfg := app.Config
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))
	if cfg.Server.RateLimitRPS > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/healthz" || p == "/v1/health" || p == "/metrics"
			},
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimitRPS)),
		}))
	}

	health := func(c echo.Context) error { return c.JSON(http.StatusOK, HealthResponse{Status: "healthy"}) }
	e.GET("/healthz", health)
	e.GET("/v1/health", health)
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := e.Group("/v1")
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		baseLogger.Printf("auth disabled: %v", err)
		secret = nil
	}
	if secret != nil {
		auth := &AuthHandler{
			Users:        app.Users,
			Secret:       secret,
			TTL:          cfg.Server.TokenTTL,
			SecureCookie: !cfg.General.Debug,
		}
		auth.Register(api.Group("/auth"))
	}

	chat := api.Group("")
	if secret != nil {
		chat.Use(runtime.EchoAuthMiddleware(secret, true))
	}
	ch := &ConversationsHandler{
		Engine:            app.Engine,
		Knowledge:         app.Knowledge,
		TrustBodyIdentity: cfg.Server.TrustBodyIdentity,
	}
	ch.Register(chat)

	ops := api.Group("/ops")
	if secret != nil {
		ops.Use(runtime.EchoAuthMiddleware(secret, false))
	}
	oh := &OpsHandler{}
	if app.Desk != nil {
		oh.Handoffs = app.Desk
	}
	oh.Register(ops)
	return e
}

// Run wires the configured backends and serves until interrupted.
func Run(ctx context.Context, cfg *config.Config) error {
	tel, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := cfg.Server.Address
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = ":10001"
	}
	return runtime.Serve(ctx, "HTTP", addr, New(app), 10*time.Second)
}
