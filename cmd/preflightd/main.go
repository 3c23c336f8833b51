package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/wudi/pdfpreflight/config"
	"github.com/wudi/pdfpreflight/render"
	"github.com/wudi/pdfpreflight/service"
	"github.com/wudi/pdfpreflight/store"
)

// @title pdfpreflight API
// @version 1.0
// @description Rasterization preflight service for PDF pages. Estimates the
// @description decode cost of a page before rendering and refuses pages that
// @description would blow the memory budget.

// @contact.name API Support
// @contact.url https://github.com/wudi/pdfpreflight

// @host localhost:8000
// @BasePath /api
// @schemes http https

// @tag.name Preflight
// @tag.description Estimate pages and render budget-approved thumbnails

// @tag.name Decisions
// @tag.description Stored preflight decisions and reports

// @tag.name Admin
// @tag.description Administrative operations (retention sweep, service info)

// @tag.name Health
// @tag.description Service health check

func main() {
	port := flag.String("port", "", "Port to run the API server on (overrides SERVER_PORT)")
	flag.Parse()

	serverConfig, logger := config.SetupServer()
	if *port != "" {
		serverConfig.ListenAddrPort = *port
	}

	if dir := filepath.Dir(serverConfig.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Unable to create database directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	st, err := store.Open(serverConfig.DatabasePath, logger)
	if err != nil {
		logger.Error("Unable to open decision store", "path", serverConfig.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	renderer, err := render.NewRenderer()
	if err != nil {
		logger.Error("Unable to initialize renderer", "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler for API endpoints
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		e.DefaultHTTPErrorHandler(err, c)
	}

	// CORS configuration - allow frontends from a different origin
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Request logging
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))

	handler := service.NewServerHandler(st, renderer, serverConfig, logger)
	handler.RegisterRoutes(e)

	cronRunner, err := handler.InitializeSchedules()
	if err != nil {
		logger.Error("Unable to schedule retention sweep", "error", err)
		os.Exit(1)
	}
	defer cronRunner.Stop()

	addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	logger.Info("Starting preflight API server", "address", addr, "budgetBytes", serverConfig.BudgetBytes)

	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}
