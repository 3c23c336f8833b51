// Package config loads daemon settings from the environment, with .env file
// support for development setups.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/wudi/pdfpreflight/preflight"
)

// ServerConfig contains all of the daemon settings.
type ServerConfig struct {
	ListenAddrIP   string
	ListenAddrPort string

	DatabasePath string

	BudgetBytes           int64
	MaxDecodedImagePixels int64
	TimeoutMS             int
	GroupMultiplier       float64
	MaskMultiplier        float64

	ThumbnailWidth int

	RetentionDays int
	SweepSchedule string
}

// Preflight maps the server settings onto an estimator configuration.
func (c ServerConfig) Preflight() preflight.Config {
	return preflight.Config{
		BudgetBytes:           c.BudgetBytes,
		MaxDecodedImagePixels: c.MaxDecodedImagePixels,
		Timeout:               time.Duration(c.TimeoutMS) * time.Millisecond,
		Multipliers: preflight.Multipliers{
			TransparencyGroup: c.GroupMultiplier,
			SoftMask:          c.MaskMultiplier,
		},
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvInt64 gets a 64-bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger.
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()

	cfg := ServerConfig{}

	cfg.ListenAddrPort = getEnv("SERVER_PORT", "8080")
	cfg.ListenAddrIP = getEnv("SERVER_ADDR", "")

	cfg.DatabasePath = filepath.ToSlash(getEnv("DATABASE_PATH", "databases/preflight.sqlite"))

	cfg.BudgetBytes = getEnvInt64("PREFLIGHT_BUDGET_BYTES", 64<<20)
	cfg.MaxDecodedImagePixels = getEnvInt64("PREFLIGHT_MAX_IMAGE_PIXELS", 0)
	cfg.TimeoutMS = getEnvInt("PREFLIGHT_TIMEOUT_MS", 2000)
	cfg.GroupMultiplier = getEnvFloat("PREFLIGHT_GROUP_MULTIPLIER", 2)
	cfg.MaskMultiplier = getEnvFloat("PREFLIGHT_MASK_MULTIPLIER", 2)

	cfg.ThumbnailWidth = getEnvInt("THUMBNAIL_WIDTH", 512)

	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	cfg.SweepSchedule = getEnv("SWEEP_SCHEDULE", "@hourly")

	logger.Info("configuration loaded",
		"port", cfg.ListenAddrPort,
		"budgetBytes", cfg.BudgetBytes,
		"timeoutMs", cfg.TimeoutMS,
		"database", cfg.DatabasePath)

	return cfg, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "file" {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "preflightd.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
			}
		}
	} else {
		logWriter = os.Stdout
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
