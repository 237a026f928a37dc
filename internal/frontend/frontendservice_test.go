package frontend

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/backend/imagehost"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/core"
)

const (
	testEmail    = "ada@ub.edu.bz"
	testPassword = "s3cret-password"
)

type fakeImageHost struct {
	next    int
	deleted []string
}

func (f *fakeImageHost) Upload(_ context.Context, upload imagehost.Upload) (*imagehost.Image, error) {
	f.next++
	hash := string(upload.Kind) + "-" + string(rune('0'+f.next))
	return &imagehost.Image{Link: "https://i.images.test/" + hash + ".png", Hash: hash}, nil
}

func (f *fakeImageHost) Delete(_ context.Context, hash string) error {
	f.deleted = append(f.deleted, hash)
	return nil
}

type fakeQREncoder struct{}

func (fakeQREncoder) Encode(string) ([]byte, error) { return []byte("qr"), nil }

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	echo    *echo.Echo
	service *core.CoreService
	images  *fakeImageHost
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if _, err := store.InsertAdministrator(context.Background(), database.NewAdministrator{
		FirstName: "Ada", LastName: "Tree", Email: testEmail, PasswordHash: hash,
	}); err != nil {
		t.Fatalf("InsertAdministrator error: %v", err)
	}

	images := &fakeImageHost{}
	config := &core.ServiceConfig{
		BaseURL:   "https://treetrack.test",
		Cooldown:  core.Cooldown{Period: 24 * time.Hour},
		Gallery:   core.Gallery{Size: 10},
		ViewCache: core.ViewCache{TTL: time.Minute},
		Auth:      core.Auth{ProtectedPrefixes: auth.DefaultProtectedPrefixes},
	}
	service, err := core.NewCoreServiceWith(config, core.Dependencies{
		Database: store,
		Images:   images,
		QR:       fakeQREncoder{},
		Cooldown: cooldown.NewMemoryStore(0),
	})
	if err != nil {
		t.Fatalf("NewCoreServiceWith error: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })

	e := echo.New()
	sessions := auth.NewSessionManager(auth.SessionConfig{Secret: "test-secret"}, store)
	if err := NewFrontendService(config, service, sessions).SetRoutes(e); err != nil {
		t.Fatalf("SetRoutes error: %v", err)
	}
	return &testEnv{echo: e, service: service, images: images}
}

func (env *testEnv) serve(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) get(path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	return env.serve(httptest.NewRequest(http.MethodGet, path, nil), cookies)
}

func (env *testEnv) postForm(path string, values url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return env.serve(req, cookies)
}

func (env *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := env.postForm("/login", url.Values{"email": {testEmail}, "password": {testPassword}, "next": {"/admin/add"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected login redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/admin/add" {
		t.Errorf("expected redirect to next, got %q", loc)
	}
	return rec.Result().Cookies()
}

func plantRequest(t *testing.T, path string, fields map[string]string, photo []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField error: %v", err)
		}
	}
	if photo != nil {
		part, err := writer.CreateFormFile("image", "tree.png")
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		if _, err := part.Write(photo); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func plantFields(name string) map[string]string {
	return map[string]string{
		"scientific_name": name,
		"common_names":    "Ceiba, Kapok",
		"description":     "The national tree of Guatemala.",
	}
}

func plantIDFromLocation(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	if err != nil || !strings.HasPrefix(loc.Path, "/plant/") {
		t.Fatalf("unexpected redirect location %q", rec.Header().Get(echo.HeaderLocation))
	}
	return strings.TrimPrefix(loc.Path, "/plant/")
}

func TestPublicPages(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/plants", "/nature-walk", "/login"} {
		rec := env.get(path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := env.get("/plant/missing", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Plant not found.") {
		t.Errorf("expected not found page, got %d", rec.Code)
	}
}

func TestProtectedPagesRedirect(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/admin/add", "/update/abc", "/reports", "/reports/plant-popularity"} {
		rec := env.get(path, nil)
		if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get(echo.HeaderLocation), "/login?next=") {
			t.Errorf("GET %s: expected redirect to login, got %d %q", path, rec.Code, rec.Header().Get(echo.HeaderLocation))
		}
	}

	rec := env.postForm("/login", url.Values{"email": {testEmail}, "password": {"wrong"}}, nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid email or password.") {
		t.Errorf("expected rejected login, got %d", rec.Code)
	}
}

func TestPlantLifecycle(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	// validation errors are shown on the form
	rec := env.serve(plantRequest(t, "/admin/add", map[string]string{"scientific_name": " "}, nil), cookies)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	for _, msg := range []string{"Scientific name is required", "Image file is required"} {
		if !strings.Contains(rec.Body.String(), msg) {
			t.Errorf("expected %q in form", msg)
		}
	}

	rec = env.serve(plantRequest(t, "/admin/add", plantFields("Ceiba pentandra"), testPNG(t)), cookies)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after add, got %d: %s", rec.Code, rec.Body.String())
	}
	id := plantIDFromLocation(t, rec)

	rec = env.get("/plant/"+id+"?notice=added", nil)
	body := rec.Body.String()
	for _, want := range []string{"Ceiba pentandra", "Ceiba, Kapok", "Plant added successfully.", "None", "badge-gray"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q on the plant page", want)
		}
	}

	// duplicate names are rejected before anything is uploaded
	uploads := env.images.next
	rec = env.serve(plantRequest(t, "/admin/add", plantFields("Ceiba pentandra"), testPNG(t)), cookies)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "Scientific name already exists") {
		t.Errorf("expected duplicate error, got %d", rec.Code)
	}
	if env.images.next != uploads {
		t.Errorf("expected no upload for a duplicate name")
	}

	// text only update keeps the photo
	fields := plantFields("Ceiba pentandra")
	fields["description"] = "Sacred tree of the Maya."
	rec = env.serve(plantRequest(t, "/update/"+id, fields, nil), cookies)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after update, got %d: %s", rec.Code, rec.Body.String())
	}
	detail, err := env.service.GetPlant(context.Background(), id)
	if err != nil || detail == nil {
		t.Fatalf("GetPlant error: %v", err)
	}
	if detail.Plant.Description != "Sacred tree of the Maya." || detail.Plant.PhotoHash != "photo-1" {
		t.Errorf("unexpected plant after update: %+v", detail.Plant)
	}
	if len(env.images.deleted) != 0 {
		t.Errorf("expected no deletions, got %v", env.images.deleted)
	}

	rec = env.get("/update/"+id, cookies)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Sacred tree of the Maya.") {
		t.Errorf("expected prefilled update form, got %d", rec.Code)
	}

	rec = env.postForm("/admin/plant/"+id+"/delete", url.Values{}, cookies)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after delete, got %d", rec.Code)
	}
	if len(env.images.deleted) != 1 || env.images.deleted[0] != "photo-1" {
		t.Errorf("expected the photo to be deleted, got %v", env.images.deleted)
	}
	if rec := env.get("/plant/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected deleted plant to be gone, got %d", rec.Code)
	}
}

func TestRatingFlow(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	rec := env.serve(plantRequest(t, "/admin/add", plantFields("Ceiba pentandra"), testPNG(t)), cookies)
	id := plantIDFromLocation(t, rec)

	rec = env.postForm("/plant/"+id+"/rate", url.Values{"rating": {"4"}}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after rating, got %d", rec.Code)
	}
	visitor := rec.Result().Cookies()
	if len(visitor) == 0 {
		t.Fatal("expected a visitor cookie")
	}

	rec = env.get("/plant/"+id, visitor)
	if !strings.Contains(rec.Body.String(), "4.00") || !strings.Contains(rec.Body.String(), "badge-green") {
		t.Errorf("expected green badge with 4.00")
	}
	if !strings.Contains(rec.Body.String(), "one rating per day") {
		t.Errorf("expected cooldown notice for the same visitor")
	}

	rec = env.postForm("/plant/"+id+"/rate", url.Values{"rating": {"1"}}, visitor)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 during cooldown, got %d", rec.Code)
	}

	rec = env.postForm("/plant/"+id+"/rate", url.Values{"rating": {"7"}}, nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Rating must be at most 5.") {
		t.Errorf("expected rating validation error, got %d", rec.Code)
	}
}

func TestReportsPages(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	tests := map[string]string{
		"/reports":                     "Plant Popularity Report",
		"/reports/admin-contributions": "Ada Tree",
		"/reports/plant-popularity":    "Plant Popularity Report",
		"/reports/plant-ratings-trend": time.Now().In(env.service.Reports().Location()).Format("January 2006"),
		"/reports/database-statistics": "Administrators",
	}
	for path, want := range tests {
		rec := env.get(path, cookies)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Errorf("GET %s: expected 200 containing %q, got %d", path, want, rec.Code)
		}
	}

	if rec := env.get("/reports/unknown", cookies); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown report, got %d", rec.Code)
	}
}

func TestIcons(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/icon.svg", nil)
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/svg+xml" {
		t.Errorf("unexpected svg icon response %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}

	rec = env.get("/icon.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	if img.Bounds().Dx() != iconPNGSize {
		t.Errorf("expected %dpx icon, got %d", iconPNGSize, img.Bounds().Dx())
	}
}
