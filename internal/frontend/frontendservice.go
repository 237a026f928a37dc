package frontend

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/backend/imaging"
	"github.com/ubtreetrack/treetrack/internal/common"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/core"
	"github.com/ubtreetrack/treetrack/internal/reports"
)

const (
	iconPNGSize = 180
	noticeParam = "notice"
)

var notices = map[string]string{
	"added":      "Plant added successfully.",
	"updated":    "Plant updated successfully.",
	"deleted":    "Plant deleted.",
	"rated":      "Thank you! Your rating has been submitted.",
	"signed-out": "You have been signed out.",
}

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
	sessions    *auth.SessionManager

	iconOnce sync.Once
	iconPNG  []byte
	iconErr  error
}

// pageData is passed to every template; Data holds the page specific values.
type pageData struct {
	Title  string
	Admin  *database.Administrator
	Notice string
	Error  string
	Data   any
}

type plantPage struct {
	Detail      *core.PlantDetail
	Cooldown    cooldown.Status
	RatingError string
}

type plantFormPage struct {
	Action string
	Submit string
	Plant  *database.Plant
	Values common.PlantForm
	Errors common.FieldErrors
}

type loginPage struct {
	Next  string
	Email string
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService, sessions *auth.SessionManager) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
		sessions:    sessions,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) error {
	renderer, err := newTemplate()
	if err != nil {
		return err
	}
	e.Renderer = renderer

	e.Use(common.EnsureVisitor(service.config.Auth.SecureCookies))
	e.Use(service.sessions.ProtectRoutes(service.config.Auth.ProtectedPrefixes))

	e.GET("/", service.homeHandler)
	e.GET("/plants", service.plantsHandler)
	e.GET("/plant/:id", service.plantHandler)
	e.POST("/plant/:id/rate", service.rateHandler)
	e.GET("/nature-walk", service.natureWalkHandler)

	e.GET("/reports", service.reportsHandler)
	e.GET("/reports/:name", service.reportHandler)

	e.GET("/admin/add", service.addFormHandler)
	e.POST("/admin/add", service.addHandler)
	e.POST("/admin/plant/:id/delete", service.deleteHandler)
	e.GET("/update/:id", service.updateFormHandler)
	e.POST("/update/:id", service.updateHandler)

	e.GET(auth.LoginPath, service.loginFormHandler)
	e.POST(auth.LoginPath, service.loginHandler)
	e.POST("/logout", service.logoutHandler)
	e.GET("/account", service.accountHandler)

	// Favicon routes
	e.GET("/icon.svg", service.iconHandler)
	e.GET("/icon.png", service.iconPNGHandler)
	return nil
}

func (service *FrontendService) render(ctx echo.Context, status int, name, title string, data any) error {
	admin, err := service.sessions.CurrentAdmin(ctx)
	if err != nil {
		slog.Error("render: failed to load session", "error", err)
	}
	return ctx.Render(status, name, pageData{
		Title:  title,
		Admin:  admin,
		Notice: notices[ctx.QueryParam(noticeParam)],
		Data:   data,
	})
}

func (service *FrontendService) renderError(ctx echo.Context, status int, message string) error {
	if status == http.StatusNotFound {
		return service.render(ctx, status, "not-found.html", "Not found", message)
	}
	return service.render(ctx, status, "error.html", "Error", message)
}

func (service *FrontendService) homeHandler(ctx echo.Context) error {
	plants, err := service.coreService.NatureWalk(ctx.Request().Context())
	if err != nil {
		slog.Error("homeHandler: failed to load featured plants", "status", http.StatusInternalServerError, "error", err)
		plants = nil
	}
	if len(plants) > 3 {
		plants = plants[:3]
	}
	return service.render(ctx, http.StatusOK, "home.html", "", plants)
}

func (service *FrontendService) plantsHandler(ctx echo.Context) error {
	plants, err := service.coreService.ListPlants(ctx.Request().Context())
	if err != nil {
		slog.Error("plantsHandler: failed to list plants", "status", http.StatusInternalServerError, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load plants.")
	}
	return service.render(ctx, http.StatusOK, "plants.html", "Plants", plants)
}

func (service *FrontendService) natureWalkHandler(ctx echo.Context) error {
	plants, err := service.coreService.NatureWalk(ctx.Request().Context())
	if err != nil {
		slog.Error("natureWalkHandler: failed to load plants", "status", http.StatusInternalServerError, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load the nature walk.")
	}
	// The selection is random on every visit
	service.setNoCache(ctx)
	return service.render(ctx, http.StatusOK, "nature-walk.html", "Nature Walk", plants)
}

func (service *FrontendService) plantHandler(ctx echo.Context) error {
	return service.renderPlant(ctx, http.StatusOK, "")
}

func (service *FrontendService) renderPlant(ctx echo.Context, status int, ratingError string) error {
	id := ctx.Param("id")
	detail, err := service.coreService.GetPlant(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("plantHandler: failed to load plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load plant.")
	}
	if detail == nil {
		return service.renderError(ctx, http.StatusNotFound, "Plant not found.")
	}

	cooldownStatus, err := service.coreService.RatingStatus(ctx.Request().Context(), common.VisitorID(ctx), id)
	if err != nil {
		slog.Warn("plantHandler: failed to read rating cooldown", "plant_id", id, "error", err)
	}
	service.setNoCache(ctx)
	return service.render(ctx, status, "plant.html", detail.Plant.ScientificName, plantPage{
		Detail:      detail,
		Cooldown:    cooldownStatus,
		RatingError: ratingError,
	})
}

func (service *FrontendService) rateHandler(ctx echo.Context) error {
	id := ctx.Param("id")

	var form common.RatingForm
	if err := ctx.Bind(&form); err != nil {
		return service.renderPlant(ctx, http.StatusBadRequest, "Please select a rating.")
	}

	err := service.coreService.SubmitRating(ctx.Request().Context(), common.VisitorID(ctx), id, form.Rating)
	switch {
	case err == nil:
		return ctx.Redirect(http.StatusSeeOther, "/plant/"+id+"?"+noticeParam+"=rated")
	case errors.Is(err, cooldown.ErrCooldownActive):
		return service.renderPlant(ctx, http.StatusTooManyRequests, "")
	case errors.Is(err, core.ErrInvalidRating):
		validation := common.ValidateRatingForm(form)
		return service.renderPlant(ctx, http.StatusBadRequest, validation.Errors()["rating"])
	case errors.Is(err, database.ErrNotFound):
		return service.renderError(ctx, http.StatusNotFound, "Plant not found.")
	default:
		slog.Error("rateHandler: failed to submit rating", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderPlant(ctx, http.StatusInternalServerError, "There was an error submitting the rating.")
	}
}

func (service *FrontendService) reportsHandler(ctx echo.Context) error {
	return service.render(ctx, http.StatusOK, "reports.html", "Reports", nil)
}

func (service *FrontendService) reportHandler(ctx echo.Context) error {
	name := ctx.Param("name")
	report, err := service.coreService.GenerateReport(ctx.Request().Context(), name)
	if errors.Is(err, reports.ErrUnknownReport) {
		return service.renderError(ctx, http.StatusNotFound, "Report not found.")
	}
	if err != nil {
		slog.Error("reportHandler: failed to generate report", "status", http.StatusInternalServerError, "report", name, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to generate report.")
	}
	service.setNoCache(ctx)
	return service.render(ctx, http.StatusOK, "report-"+name+".html", "Reports", report)
}

// actor resolves the signed in administrator, redirecting to the login page when there is none.
func (service *FrontendService) actor(ctx echo.Context) (*core.Actor, error) {
	admin, err := service.sessions.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	return &core.Actor{AdminID: admin.ID}, nil
}

func (service *FrontendService) redirectToLogin(ctx echo.Context, err error) error {
	if !errors.Is(err, auth.ErrNoSession) {
		slog.Error("redirectToLogin: failed to load session", "error", err)
	}
	return ctx.Redirect(http.StatusSeeOther, auth.LoginPath)
}

func (service *FrontendService) addFormHandler(ctx echo.Context) error {
	return service.render(ctx, http.StatusOK, "plant-form.html", "Add plant", plantFormPage{
		Action: "/admin/add",
		Submit: "Add plant",
	})
}

func (service *FrontendService) addHandler(ctx echo.Context) error {
	actor, err := service.actor(ctx)
	if err != nil {
		return service.redirectToLogin(ctx, err)
	}

	page := plantFormPage{Action: "/admin/add", Submit: "Add plant"}
	if err := ctx.Bind(&page.Values); err != nil {
		return service.renderError(ctx, http.StatusBadRequest, "Invalid form submission.")
	}
	image, err := readImageFile(ctx, "image")
	if err != nil {
		slog.Error("addHandler: failed to read uploaded file", "status", http.StatusBadRequest, "error", err)
		return service.renderError(ctx, http.StatusBadRequest, "Failed to read uploaded file.")
	}

	validation := common.ValidatePlantForm(page.Values, image, true)
	if !validation.IsValid() {
		page.Errors = validation.Errors()
		return service.render(ctx, http.StatusUnprocessableEntity, "plant-form.html", "Add plant", page)
	}

	id, err := service.coreService.AddPlant(ctx.Request().Context(), actor, validation.Value(), *image)
	if err != nil {
		return service.renderFormError(ctx, "addHandler", page, "Add plant", err)
	}
	return ctx.Redirect(http.StatusSeeOther, "/plant/"+id+"?"+noticeParam+"=added")
}

func (service *FrontendService) updateFormHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	detail, err := service.coreService.GetPlant(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("updateFormHandler: failed to load plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load plant.")
	}
	if detail == nil {
		return service.renderError(ctx, http.StatusNotFound, "Plant not found.")
	}
	plant := detail.Plant
	return service.render(ctx, http.StatusOK, "plant-form.html", "Update plant", plantFormPage{
		Action: "/update/" + id,
		Submit: "Save changes",
		Plant:  plant,
		Values: common.PlantForm{
			ScientificName: plant.ScientificName,
			CommonNames:    strings.Join(plant.CommonNames, ", "),
			Description:    plant.Description,
		},
	})
}

func (service *FrontendService) updateHandler(ctx echo.Context) error {
	actor, err := service.actor(ctx)
	if err != nil {
		return service.redirectToLogin(ctx, err)
	}

	id := ctx.Param("id")
	detail, err := service.coreService.GetPlant(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("updateHandler: failed to load plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load plant.")
	}
	if detail == nil {
		return service.renderError(ctx, http.StatusNotFound, "Plant not found.")
	}

	page := plantFormPage{Action: "/update/" + id, Submit: "Save changes", Plant: detail.Plant}
	if err := ctx.Bind(&page.Values); err != nil {
		return service.renderError(ctx, http.StatusBadRequest, "Invalid form submission.")
	}
	image, err := readImageFile(ctx, "image")
	if err != nil {
		slog.Error("updateHandler: failed to read uploaded file", "status", http.StatusBadRequest, "error", err)
		return service.renderError(ctx, http.StatusBadRequest, "Failed to read uploaded file.")
	}

	validation := common.ValidatePlantForm(page.Values, image, false)
	if !validation.IsValid() {
		page.Errors = validation.Errors()
		return service.render(ctx, http.StatusUnprocessableEntity, "plant-form.html", "Update plant", page)
	}

	if _, err := service.coreService.UpdatePlant(ctx.Request().Context(), actor, id, detail.Plant.PhotoHash, validation.Value(), image); err != nil {
		return service.renderFormError(ctx, "updateHandler", page, "Update plant", err)
	}
	return ctx.Redirect(http.StatusSeeOther, "/plant/"+id+"?"+noticeParam+"=updated")
}

func (service *FrontendService) renderFormError(ctx echo.Context, handler string, page plantFormPage, title string, err error) error {
	if errors.Is(err, database.ErrDuplicateScientificName) {
		page.Errors = common.FieldErrors{"scientific_name": common.MsgScientificNameExists}
		return service.render(ctx, http.StatusConflict, "plant-form.html", title, page)
	}
	if errors.Is(err, core.ErrNotAuthenticated) {
		return ctx.Redirect(http.StatusSeeOther, auth.LoginPath)
	}
	slog.Error(handler+": failed to save plant", "status", http.StatusInternalServerError, "error", err)

	admin, _ := service.sessions.CurrentAdmin(ctx)
	return ctx.Render(http.StatusInternalServerError, "plant-form.html", pageData{
		Title: title,
		Admin: admin,
		Error: "Failed to save the plant: " + err.Error(),
		Data:  page,
	})
}

func (service *FrontendService) deleteHandler(ctx echo.Context) error {
	actor, err := service.actor(ctx)
	if err != nil {
		return service.redirectToLogin(ctx, err)
	}

	id := ctx.Param("id")
	detail, err := service.coreService.GetPlant(ctx.Request().Context(), id)
	if err != nil {
		slog.Error("deleteHandler: failed to load plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to load plant.")
	}
	if detail == nil {
		return service.renderError(ctx, http.StatusNotFound, "Plant not found.")
	}

	if err := service.coreService.DeletePlant(ctx.Request().Context(), actor, id, detail.Plant.PhotoHash); err != nil {
		slog.Error("deleteHandler: failed to delete plant", "status", http.StatusInternalServerError, "plant_id", id, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to delete plant.")
	}
	return ctx.Redirect(http.StatusSeeOther, "/plants?"+noticeParam+"=deleted")
}

func (service *FrontendService) loginFormHandler(ctx echo.Context) error {
	if admin, _ := service.sessions.CurrentAdmin(ctx); admin != nil {
		return ctx.Redirect(http.StatusSeeOther, auth.SafeNext(ctx.QueryParam("next")))
	}
	return service.render(ctx, http.StatusOK, "login.html", "Sign in", loginPage{Next: ctx.QueryParam("next")})
}

func (service *FrontendService) loginHandler(ctx echo.Context) error {
	email := ctx.FormValue("email")
	next := ctx.FormValue("next")

	admin, err := auth.Authenticate(ctx.Request().Context(), service.coreService.Administrators(), email, ctx.FormValue("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Error("loginHandler: failed to authenticate", "status", http.StatusInternalServerError, "error", err)
		}
		return ctx.Render(http.StatusUnauthorized, "login.html", pageData{
			Title: "Sign in",
			Error: "Invalid email or password.",
			Data:  loginPage{Next: next, Email: email},
		})
	}

	if err := service.sessions.Login(ctx, admin); err != nil {
		slog.Error("loginHandler: failed to start session", "status", http.StatusInternalServerError, "error", err)
		return service.renderError(ctx, http.StatusInternalServerError, "Failed to sign in.")
	}
	slog.Info("administrator signed in", "admin_id", admin.ID)
	return ctx.Redirect(http.StatusSeeOther, auth.SafeNext(next))
}

func (service *FrontendService) logoutHandler(ctx echo.Context) error {
	if err := service.sessions.Logout(ctx); err != nil {
		slog.Error("logoutHandler: failed to end session", "status", http.StatusInternalServerError, "error", err)
	}
	return ctx.Redirect(http.StatusSeeOther, "/?"+noticeParam+"=signed-out")
}

func (service *FrontendService) accountHandler(ctx echo.Context) error {
	if _, err := service.sessions.RequireAdmin(ctx); err != nil {
		return service.redirectToLogin(ctx, err)
	}
	return service.render(ctx, http.StatusOK, "account.html", "Account", nil)
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

func (service *FrontendService) iconPNGHandler(ctx echo.Context) error {
	service.iconOnce.Do(func() {
		var svg []byte
		svg, service.iconErr = assetsFS.ReadFile("views/icon.svg")
		if service.iconErr == nil {
			service.iconPNG, service.iconErr = imaging.RasterizeSVG(svg, iconPNGSize)
		}
	})
	if service.iconErr != nil {
		slog.Error("iconPNGHandler: failed to render icon", "status", http.StatusInternalServerError, "error", service.iconErr)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/png", service.iconPNG)
}

// readImageFile returns nil when the form has no file in field.
func readImageFile(ctx echo.Context, field string) (*common.ImageFile, error) {
	file, err := ctx.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if file.Size == 0 {
		return nil, nil
	}
	return readMultipartFile(file)
}

func readMultipartFile(file *multipart.FileHeader) (*common.ImageFile, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("readMultipartFile: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	// one byte past the limit is enough to reject oversized files
	data, err := io.ReadAll(io.LimitReader(src, common.MaxImageSize+1))
	if err != nil {
		return nil, err
	}
	return &common.ImageFile{Filename: file.Filename, Size: file.Size, Data: data}, nil
}
