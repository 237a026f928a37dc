package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/backend/imagehost"
	"github.com/ubtreetrack/treetrack/internal/common"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/core"
	"github.com/ubtreetrack/treetrack/internal/metrics"
)

type fakeImageHost struct {
	uploads []imagehost.Upload
	err     error
}

func (f *fakeImageHost) Upload(_ context.Context, upload imagehost.Upload) (*imagehost.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploads = append(f.uploads, upload)
	return &imagehost.Image{Link: "https://i.images.test/abc.png", Hash: "abc"}, nil
}

func (f *fakeImageHost) Delete(context.Context, string) error { return nil }

type fakeQREncoder struct{}

func (fakeQREncoder) Encode(string) ([]byte, error) { return pngBytes(nil), nil }

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil && t != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

type apiTestEnv struct {
	echo    *echo.Echo
	service *core.CoreService
	store   database.DatabaseService
	images  *fakeImageHost
	adminID string
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	store, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	images := &fakeImageHost{}
	config := &core.ServiceConfig{
		BaseURL:   "https://treetrack.test",
		Cooldown:  core.Cooldown{Period: 24 * time.Hour},
		Gallery:   core.Gallery{Size: 10},
		ViewCache: core.ViewCache{TTL: -1},
	}
	m, err := metrics.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics error: %v", err)
	}
	service, err := core.NewCoreServiceWith(config, core.Dependencies{
		Database: store,
		Images:   images,
		QR:       fakeQREncoder{},
		Cooldown: cooldown.NewMemoryStore(0),
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("NewCoreServiceWith error: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })

	adminID, err := store.InsertAdministrator(context.Background(), database.NewAdministrator{
		FirstName: "Ada", LastName: "Tree", Email: "ada@ub.edu.bz",
	})
	if err != nil {
		t.Fatalf("InsertAdministrator error: %v", err)
	}

	sessions := auth.NewSessionManager(auth.SessionConfig{Secret: "test-secret"}, store)
	e := echo.New()
	e.Validator = &common.GenericEchoValidator{}
	e.Use(common.EnsureVisitor(false))
	NewAPIService(config, service, sessions).SetRoutes(e)
	e.POST("/test-login", func(c echo.Context) error {
		admin, err := store.GetAdministratorByID(c.Request().Context(), adminID)
		if err != nil {
			return err
		}
		if err := sessions.Login(c, admin); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	return &apiTestEnv{echo: e, service: service, store: store, images: images, adminID: adminID}
}

func (env *apiTestEnv) serve(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func (env *apiTestEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := env.serve(httptest.NewRequest(http.MethodPost, "/test-login", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login failed with %d", rec.Code)
	}
	return rec.Result().Cookies()
}

func (env *apiTestEnv) addPlant(t *testing.T, name string) string {
	t.Helper()
	id, err := env.service.AddPlant(context.Background(), &core.Actor{AdminID: env.adminID},
		common.PlantFields{ScientificName: name, CommonNames: []string{"Tree"}, Description: "A tree."},
		common.ImageFile{Filename: "tree.png", Size: int64(len(pngBytes(t))), Data: pngBytes(t)})
	if err != nil {
		t.Fatalf("AddPlant error: %v", err)
	}
	return id
}

func uploadRequest(t *testing.T, fields map[string]string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if data != nil {
		part, err := writer.CreateFormFile("image", "upload.png")
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField error: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestProbe(t *testing.T) {
	env := newAPITestEnv(t)
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/probe", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	env := newAPITestEnv(t)
	cookies := env.login(t)

	tests := []struct {
		name       string
		cookies    []*http.Cookie
		fields     map[string]string
		data       []byte
		hostErr    error
		wantStatus int
		wantResult string
	}{
		{name: "anonymous", data: pngBytes(t), wantStatus: http.StatusUnauthorized, wantResult: statusFail},
		{name: "missing file", cookies: cookies, wantStatus: http.StatusBadRequest, wantResult: statusFail},
		{name: "not an image", cookies: cookies, data: []byte("hello"), wantStatus: http.StatusBadRequest, wantResult: statusFail},
		{name: "host failure", cookies: cookies, data: pngBytes(t), hostErr: imagehost.ErrUpload, wantStatus: http.StatusBadGateway, wantResult: statusFail},
		{name: "photo", cookies: cookies, fields: map[string]string{"title": "Ceiba"}, data: pngBytes(t), wantStatus: http.StatusOK, wantResult: statusSuccess},
		{name: "qr code", cookies: cookies, fields: map[string]string{"qr": "true"}, data: pngBytes(t), wantStatus: http.StatusOK, wantResult: statusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.images.err = tt.hostErr
			rec := env.serve(uploadRequest(t, tt.fields, tt.data), tt.cookies...)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			var resp UploadResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid response body: %v", err)
			}
			if resp.Status != tt.wantResult {
				t.Errorf("expected status %q, got %q", tt.wantResult, resp.Status)
			}
			if tt.wantResult == statusSuccess && (resp.Link == "" || resp.Hash != "abc") {
				t.Errorf("expected link and hash, got %+v", resp)
			}
		})
	}

	last := env.images.uploads[len(env.images.uploads)-1]
	if last.Kind != imagehost.KindQRCode {
		t.Errorf("expected last upload to target the qr album, got %q", last.Kind)
	}
}

func TestPlantsEndpoints(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/plants", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}

	id := env.addPlant(t, "Ceiba pentandra")

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/plants", nil))
	var plants []database.PlantSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &plants); err != nil {
		t.Fatalf("invalid list body: %v", err)
	}
	if len(plants) != 1 || plants[0].ID != id {
		t.Errorf("expected the new plant, got %+v", plants)
	}

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/plants/"+id, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ceiba pentandra") {
		t.Errorf("expected plant detail, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/plants/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSubmitRating(t *testing.T) {
	env := newAPITestEnv(t)
	id := env.addPlant(t, "Ceiba pentandra")

	rate := func(plantID, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/plants/"+plantID+"/ratings", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return env.serve(req, cookies...)
	}

	rec := rate(id, `{"rating":4}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	visitor := rec.Result().Cookies()

	rec = rate(id, `{"rating":5}`, visitor...)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 during cooldown, got %d", rec.Code)
	}
	var resp ratingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Success || resp.Remaining == "" {
		t.Errorf("expected failure with remaining time, got %+v", resp)
	}

	if rec := rate(id, `{"rating":9}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range rating, got %d", rec.Code)
	}
	if rec := rate("missing", `{"rating":3}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown plant, got %d", rec.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	env := newAPITestEnv(t)
	env.addPlant(t, "Ceiba pentandra")

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/reports/admin-contributions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "ada@ub.edu.bz") {
		t.Error("expected no administrator data without a session")
	}

	cookies := env.login(t)
	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/reports/database-statistics", nil), cookies...)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Plants") {
		t.Errorf("expected statistics report, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/reports/admin-contributions", nil), cookies...)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ada@ub.edu.bz") {
		t.Errorf("expected contributions report, got %d", rec.Code)
	}

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/api/reports/unknown", nil), cookies...)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPlantsEndpoint_SortedByScientificName(t *testing.T) {
	env := newAPITestEnv(t)
	for _, name := range []string{"Zamia prasina", "Ceiba pentandra", "Acacia cornigera"} {
		env.addPlant(t, name)
	}

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/api/plants", nil))
	var plants []database.PlantSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &plants); err != nil {
		t.Fatalf("invalid list body: %v", err)
	}
	want := []string{"Acacia cornigera", "Ceiba pentandra", "Zamia prasina"}
	if len(plants) != len(want) {
		t.Fatalf("expected %d plants, got %d", len(want), len(plants))
	}
	for i, name := range want {
		if plants[i].ScientificName != name {
			t.Errorf("position %d: expected %q, got %q", i, name, plants[i].ScientificName)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPITestEnv(t)
	rec := env.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("expected prometheus output, got %d", rec.Code)
	}
}
