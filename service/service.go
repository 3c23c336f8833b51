// Package service exposes the preflight estimator over HTTP. Uploads are
// estimated, decided, and stored; thumbnails are only rasterized when the
// decision allows it.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wudi/pdfpreflight/config"
	"github.com/wudi/pdfpreflight/engine"
	"github.com/wudi/pdfpreflight/jsengine"
	"github.com/wudi/pdfpreflight/preflight"
	"github.com/wudi/pdfpreflight/render"
	"github.com/wudi/pdfpreflight/report"
	"github.com/wudi/pdfpreflight/store"
)

// ServerHandler injects the shared dependencies into the routes.
type ServerHandler struct {
	Store        *store.Store
	Renderer     render.Renderer
	ServerConfig config.ServerConfig
	Log          *slog.Logger
}

// NewServerHandler wires the handler. A nil logger discards all output.
func NewServerHandler(st *store.Store, r render.Renderer, cfg config.ServerConfig, logger *slog.Logger) *ServerHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ServerHandler{Store: st, Renderer: r, ServerConfig: cfg, Log: logger}
}

// RegisterRoutes attaches all API routes to e.
func (h *ServerHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/health", h.Health)
	e.GET("/api/about", h.GetAboutInfo)

	e.POST("/api/preflight", h.RunPreflight)
	e.POST("/api/thumbnail", h.Thumbnail)

	e.GET("/api/decisions", h.ListDecisions)
	e.GET("/api/decisions/:id", h.GetDecision)
	e.GET("/api/decisions/:id/report", h.GetDecisionReport)

	e.POST("/api/sweep", h.RunSweepNow)
}

type preflightResponse struct {
	ID       string             `json:"id"`
	Document string             `json:"document"`
	Page     int                `json:"page"`
	Pages    int                `json:"pages"`
	Result   preflight.Decision `json:"result"`
}

// Health reports service liveness.
// @Summary Service health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string "Service status"
// @Router /health [get]
func (h *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pdfpreflight API",
	})
}

// GetAboutInfo returns the estimator configuration this server runs with.
// @Summary Get service configuration
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Configuration and store size"
// @Router /about [get]
func (h *ServerHandler) GetAboutInfo(c echo.Context) error {
	count, err := h.Store.Count(c.Request().Context())
	if err != nil {
		h.Log.Error("Unable to count stored decisions", "error", err)
	}

	aboutInfo := map[string]interface{}{
		"budgetBytes":     h.ServerConfig.BudgetBytes,
		"maxImagePixels":  h.ServerConfig.MaxDecodedImagePixels,
		"timeoutMs":       h.ServerConfig.TimeoutMS,
		"groupMultiplier": h.ServerConfig.GroupMultiplier,
		"maskMultiplier":  h.ServerConfig.MaskMultiplier,
		"thumbnailWidth":  h.ServerConfig.ThumbnailWidth,
		"retentionDays":   h.ServerConfig.RetentionDays,
		"sweepSchedule":   h.ServerConfig.SweepSchedule,
		"storedDecisions": count,
	}
	return c.JSON(http.StatusOK, aboutInfo)
}

// RunPreflight estimates one page of the uploaded document and stores the
// decision under its content hash.
// @Summary Run the preflight estimator
// @Tags Preflight
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF document"
// @Param page formData int false "Zero-based page number (default 0)"
// @Param budgetBytes formData int false "Budget override in bytes"
// @Success 200 {object} preflightResponse "Stored decision"
// @Failure 400 {object} map[string]string "Malformed request"
// @Failure 422 {object} map[string]string "Document could not be analyzed"
// @Router /preflight [post]
func (h *ServerHandler) RunPreflight(c echo.Context) error {
	data, page, err := h.readDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	cfg, err := h.requestConfig(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	pageHandle, table, err := scriptedPage(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	previewer := render.NewPreviewer(cfg, h.Renderer, h.ServerConfig.ThumbnailWidth, h.Log)
	info, decision, err := previewer.Decide(c.Request().Context(), data, page, pageHandle, table)
	if err != nil {
		h.Log.Error("Preflight analysis failed", "error", err)
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	rec, err := h.saveDecision(c, data, page, cfg, decision)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store decision"})
	}

	return c.JSON(http.StatusOK, preflightResponse{
		ID:       rec.ID.String(),
		Document: rec.Key.DocHash,
		Page:     page,
		Pages:    info.Pages,
		Result:   decision,
	})
}

// Thumbnail rasterizes one page as a PNG, gated by the estimator. A skip
// verdict answers 422 with the decision body instead of image bytes.
// @Summary Render a page thumbnail
// @Tags Preflight
// @Accept multipart/form-data
// @Produce png
// @Param file formData file true "PDF document"
// @Param page formData int false "Zero-based page number (default 0)"
// @Param width formData int false "Thumbnail width override in pixels"
// @Success 200 {file} binary "PNG thumbnail"
// @Failure 400 {object} map[string]string "Malformed request"
// @Failure 422 {object} preflight.Decision "Page was skipped"
// @Router /thumbnail [post]
func (h *ServerHandler) Thumbnail(c echo.Context) error {
	data, page, err := h.readDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	cfg, err := h.requestConfig(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	pageHandle, table, err := scriptedPage(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	width := h.ServerConfig.ThumbnailWidth
	if raw := c.FormValue("width"); raw != "" {
		width, err = strconv.Atoi(raw)
		if err != nil || width <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid width %q", raw)})
		}
	}

	previewer := render.NewPreviewer(cfg, h.Renderer, width, h.Log)
	img, decision, err := previewer.Thumbnail(c.Request().Context(), data, page, pageHandle, table)
	if err != nil {
		h.Log.Error("Thumbnail generation failed", "error", err)
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	if _, err := h.saveDecision(c, data, page, cfg, decision); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store decision"})
	}

	if img == nil {
		return c.JSON(http.StatusUnprocessableEntity, decision)
	}

	blob, err := render.EncodePNG(img)
	if err != nil {
		h.Log.Error("Unable to encode thumbnail", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.Blob(http.StatusOK, "image/png", blob)
}

// ListDecisions returns the most recently updated decisions.
// @Summary List stored decisions
// @Tags Decisions
// @Produce json
// @Param limit query int false "Maximum rows (default 50)"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} map[string]interface{} "Decisions ordered newest first"
// @Router /decisions [get]
func (h *ServerHandler) ListDecisions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	records, err := h.Store.Recent(c.Request().Context(), limit, offset)
	if err != nil {
		h.Log.Error("Unable to list decisions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list decisions"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"decisions": records,
		"count":     len(records),
	})
}

// GetDecision returns one stored decision by id.
// @Summary Get a stored decision
// @Tags Decisions
// @Produce json
// @Param id path string true "Decision ULID"
// @Success 200 {object} store.Record "Stored decision"
// @Failure 404 {object} map[string]string "Unknown id"
// @Router /decisions/{id} [get]
func (h *ServerHandler) GetDecision(c echo.Context) error {
	rec, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.Log.Error("Decision lookup failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load decision"})
	}
	if rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "decision not found"})
	}
	return c.JSON(http.StatusOK, rec)
}

// GetDecisionReport renders one stored decision as markdown, or as HTML
// when format=html.
// @Summary Render a decision report
// @Tags Decisions
// @Produce plain
// @Param id path string true "Decision ULID"
// @Param format query string false "Output format: markdown (default) or html"
// @Success 200 {string} string "Report document"
// @Failure 404 {object} map[string]string "Unknown id"
// @Router /decisions/{id}/report [get]
func (h *ServerHandler) GetDecisionReport(c echo.Context) error {
	rec, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.Log.Error("Decision lookup failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load decision"})
	}
	if rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "decision not found"})
	}

	summary := report.FromRecord(*rec)
	if c.QueryParam("format") == "html" {
		html, err := report.HTML(summary)
		if err != nil {
			h.Log.Error("Report rendering failed", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to render report"})
		}
		return c.HTML(http.StatusOK, html)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=UTF-8", []byte(report.Markdown(summary)))
}

// RunSweepNow triggers the retention sweep manually.
// @Summary Trigger retention sweep
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Rows removed"
// @Router /sweep [post]
func (h *ServerHandler) RunSweepNow(c echo.Context) error {
	h.Log.Info("Manual retention sweep triggered via API")

	deleted, err := h.Sweep(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Sweep completed",
		"deleted": deleted,
	})
}

// readDocument pulls the uploaded PDF and target page out of the request.
func (h *ServerHandler) readDocument(c echo.Context) ([]byte, int, error) {
	file, _, err := c.Request().FormFile("file")
	if err != nil {
		return nil, 0, fmt.Errorf("missing file upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, 0, fmt.Errorf("read upload: %w", err)
	}

	page := 0
	if raw := c.FormValue("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 0 {
			return nil, 0, fmt.Errorf("invalid page %q", raw)
		}
	}
	return data, page, nil
}

// requestConfig starts from the server configuration and applies the
// per-request overrides.
func (h *ServerHandler) requestConfig(c echo.Context) (preflight.Config, error) {
	cfg := h.ServerConfig.Preflight()

	if raw := c.FormValue("budgetBytes"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid budgetBytes %q", raw)
		}
		cfg.BudgetBytes = v
	}
	if raw := c.FormValue("maxImagePixels"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid maxImagePixels %q", raw)
		}
		cfg.MaxDecodedImagePixels = v
	}
	if raw := c.FormValue("timeoutMs"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeoutMs %q", raw)
		}
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	return cfg, nil
}

// scriptedPage builds the operator-list stage inputs from the optional
// script fields. Both scripts run on one VM so the page script can use
// bindings the operator table script set up.
func scriptedPage(c echo.Context) (engine.PageHandle, engine.OperatorTable, error) {
	opsScript := c.FormValue("opsScript")
	pageScript := c.FormValue("pageScript")
	if opsScript == "" && pageScript == "" {
		return nil, nil, nil
	}
	if opsScript == "" || pageScript == "" {
		return nil, nil, errors.New("opsScript and pageScript must be supplied together")
	}

	vm := jsengine.New()
	ctx := c.Request().Context()
	table, err := vm.OperatorTable(ctx, opsScript)
	if err != nil {
		return nil, nil, err
	}
	page, err := vm.Page(ctx, pageScript)
	if err != nil {
		return nil, nil, err
	}
	return page, table, nil
}

// saveDecision records the decision under the document's content hash and
// the requested budget.
func (h *ServerHandler) saveDecision(c echo.Context, data []byte, page int, cfg preflight.Config, d preflight.Decision) (*store.Record, error) {
	key := store.Key{
		DocHash:     store.HashDocument(data),
		Page:        page,
		BudgetBytes: cfg.BudgetBytes,
	}
	rec, err := h.Store.Save(c.Request().Context(), key, d)
	if err != nil {
		h.Log.Error("Unable to store decision", "docHash", key.DocHash, "page", page, "error", err)
		return nil, err
	}
	return rec, nil
}
