package backend

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/common"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/core"
	"github.com/ubtreetrack/treetrack/internal/reports"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
	sessions    *auth.SessionManager
}

// UploadResponse is the body of POST /api/upload.
type UploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ActionResult reports the outcome of a mutation.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ratingRequest struct {
	Rating int `json:"rating" form:"rating" validate:"min=1,max=5"`
}

type ratingResponse struct {
	ActionResult
	Remaining string `json:"remaining,omitempty"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService, sessions *auth.SessionManager) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
		sessions:    sessions,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})
	e.GET("/metrics", echo.WrapHandler(s.coreService.Metrics().Handler()))

	api := e.Group("/api")
	api.POST("/upload", s.uploadHandler)
	api.GET("/plants", s.listPlantsHandler)
	api.GET("/plants/:id", s.getPlantHandler)
	api.POST("/plants/:id/ratings", s.submitRatingHandler)
	api.GET("/reports/:name", s.reportHandler)
}

func (s *APIService) uploadHandler(ctx echo.Context) error {
	if _, err := s.sessions.RequireAdmin(ctx); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return ctx.JSON(http.StatusUnauthorized, UploadResponse{Status: statusFail, Message: "Sign in to upload images"})
		}
		slog.Error("uploadHandler: failed to load session", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, UploadResponse{Status: statusFail, Message: "Failed to load session"})
	}

	file, err := ctx.FormFile("image")
	if err != nil {
		slog.Error("uploadHandler: failed to get uploaded file", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, UploadResponse{Status: statusFail, Message: "No image file provided"})
	}
	src, err := file.Open()
	if err != nil {
		slog.Error("uploadHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusInternalServerError, UploadResponse{Status: statusFail, Message: "Failed to open uploaded file"})
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("uploadHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(src, common.MaxImageSize+1))
	if err != nil {
		slog.Error("uploadHandler: failed to read uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusInternalServerError, UploadResponse{Status: statusFail, Message: "Failed to read uploaded file"})
	}

	isQR, _ := strconv.ParseBool(ctx.FormValue("qr"))
	image, err := s.coreService.UploadImage(ctx.Request().Context(), core.ImageUpload{
		QRCode:      isQR,
		Filename:    file.Filename,
		Name:        ctx.FormValue("name"),
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Data:        data,
	})
	if errors.Is(err, core.ErrInvalidImage) {
		slog.Error("uploadHandler: rejected uploaded file", "status", http.StatusBadRequest, "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusBadRequest, UploadResponse{Status: statusFail, Message: err.Error()})
	}
	if err != nil {
		slog.Error("uploadHandler: image host upload failed", "status", http.StatusBadGateway, "error", err, "filename", file.Filename)
		return ctx.JSON(http.StatusBadGateway, UploadResponse{
			Status:  statusFail,
			Message: "Upload to image host failed",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return ctx.JSON(http.StatusOK, UploadResponse{
		Status:  statusSuccess,
		Message: "Image uploaded",
		Link:    image.Link,
		Hash:    image.Hash,
	})
}

func (s *APIService) listPlantsHandler(ctx echo.Context) error {
	plants, err := s.coreService.ListPlants(ctx.Request().Context())
	if err != nil {
		slog.Error("listPlantsHandler: failed to list plants", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ActionResult{Error: "Failed to list plants"})
	}
	if plants == nil {
		plants = []*database.PlantSummary{}
	}
	return ctx.JSON(http.StatusOK, plants)
}

func (s *APIService) getPlantHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	detail, err := s.coreService.GetPlant(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("getPlantHandler: failed to get plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ActionResult{Error: "Failed to load plant"})
	}
	if detail == nil {
		return ctx.JSON(http.StatusNotFound, ActionResult{Error: "Plant not found"})
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (s *APIService) submitRatingHandler(ctx echo.Context) error {
	id := ctx.Param("id")

	var req ratingRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ratingResponse{ActionResult: ActionResult{Error: "Invalid request body"}})
	}
	if err := ctx.Validate(&req); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			msg, _ := httpErr.Message.(string)
			return ctx.JSON(httpErr.Code, ratingResponse{ActionResult: ActionResult{Error: msg}})
		}
		return ctx.JSON(http.StatusBadRequest, ratingResponse{ActionResult: ActionResult{Error: err.Error()}})
	}

	visitorID := common.VisitorID(ctx)
	err := s.coreService.SubmitRating(ctx.Request().Context(), visitorID, id, req.Rating)
	switch {
	case err == nil:
		return ctx.JSON(http.StatusCreated, ratingResponse{ActionResult: ActionResult{Success: true}})
	case errors.Is(err, cooldown.ErrCooldownActive):
		status, _ := s.coreService.RatingStatus(ctx.Request().Context(), visitorID, id)
		return ctx.JSON(http.StatusTooManyRequests, ratingResponse{
			ActionResult: ActionResult{Error: "You can only submit one rating per day for this plant."},
			Remaining:    status.FormatRemaining(),
		})
	case errors.Is(err, core.ErrInvalidRating):
		return ctx.JSON(http.StatusBadRequest, ratingResponse{ActionResult: ActionResult{Error: err.Error()}})
	case errors.Is(err, database.ErrNotFound):
		return ctx.JSON(http.StatusNotFound, ratingResponse{ActionResult: ActionResult{Error: "Plant not found"}})
	default:
		slog.Error("submitRatingHandler: failed to submit rating", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ratingResponse{ActionResult: ActionResult{Error: "There was an error submitting the rating."}})
	}
}

func (s *APIService) reportHandler(ctx echo.Context) error {
	if _, err := s.sessions.RequireAdmin(ctx); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return ctx.JSON(http.StatusUnauthorized, ActionResult{Error: "Sign in to view reports"})
		}
		slog.Error("reportHandler: failed to load session", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ActionResult{Error: "Failed to load session"})
	}

	name := ctx.Param("name")
	report, err := s.coreService.GenerateReport(ctx.Request().Context(), name)
	if errors.Is(err, reports.ErrUnknownReport) {
		return ctx.JSON(http.StatusNotFound, ActionResult{Error: "Unknown report"})
	}
	if err != nil {
		slog.Error("reportHandler: failed to generate report", "status", http.StatusInternalServerError, "report", name, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ActionResult{Error: "Failed to generate report"})
	}
	return ctx.JSON(http.StatusOK, report)
}
