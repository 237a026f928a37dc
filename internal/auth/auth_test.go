package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"golang.org/x/crypto/bcrypt"
)

type fakeAdmins struct {
	admins map[string]*database.Administrator
}

func newFakeAdmins(t *testing.T, password string) *fakeAdmins {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return &fakeAdmins{admins: map[string]*database.Administrator{
		"admin-1": {ID: "admin-1", FirstName: "Ada", Email: "ada@ub.edu.bz", PasswordHash: string(hash)},
	}}
}

func (f *fakeAdmins) GetAdministratorByID(_ context.Context, id string) (*database.Administrator, error) {
	return f.admins[id], nil
}

func (f *fakeAdmins) GetAdministratorByEmail(_ context.Context, email string) (*database.Administrator, error) {
	for _, a := range f.admins {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return nil, nil
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestAuthenticate(t *testing.T) {
	store := newFakeAdmins(t, "s3cret")

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  bool
	}{
		{name: "valid", email: "ada@ub.edu.bz", password: "s3cret"},
		{name: "valid with whitespace", email: "  ada@ub.edu.bz ", password: "s3cret"},
		{name: "wrong password", email: "ada@ub.edu.bz", password: "nope", wantErr: true},
		{name: "unknown email", email: "bob@ub.edu.bz", password: "s3cret", wantErr: true},
		{name: "empty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin, err := Authenticate(context.Background(), store, tt.email, tt.password)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCredentials) {
					t.Fatalf("expected ErrInvalidCredentials, got %v", err)
				}
				return
			}
			if err != nil || admin == nil || admin.ID != "admin-1" {
				t.Fatalf("expected admin-1, got %+v, %v", admin, err)
			}
		})
	}
}

func TestIsProtected(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/admin", true},
		{"/admin/add", true},
		{"/update/abc", true},
		{"/reports", true},
		{"/reports/plant-popularity", true},
		{"/administrators", false},
		{"/plants", false},
		{"/plant/abc", false},
		{"/", false},
		{"/login", false},
	}
	for _, tt := range tests {
		if got := IsProtected(tt.path, DefaultProtectedPrefixes); got != tt.want {
			t.Errorf("IsProtected(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/admin/add":        "/admin/add",
		"//evil.example":    "/",
		"https://evil.test": "/",
		"/\\evil.example":   "/",
	}
	for in, want := range tests {
		if got := SafeNext(in); got != want {
			t.Errorf("SafeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestEcho(manager *SessionManager) *echo.Echo {
	e := echo.New()
	e.Use(manager.ProtectRoutes(DefaultProtectedPrefixes))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/admin/add", ok)
	e.GET("/plants", ok)
	e.POST("/login", func(c echo.Context) error {
		admin, err := Authenticate(c.Request().Context(), manager.admins, c.FormValue("email"), c.FormValue("password"))
		if err != nil {
			return c.NoContent(http.StatusUnauthorized)
		}
		if err := manager.Login(c, admin); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
	e.POST("/logout", func(c echo.Context) error {
		if err := manager.Logout(c); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

func TestProtectRoutes(t *testing.T) {
	manager := NewSessionManager(SessionConfig{Secret: "test-secret"}, newFakeAdmins(t, "s3cret"))
	e := newTestEcho(manager)

	// anonymous request to a protected page
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/add", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/login?next=%2Fadmin%2Fadd" {
		t.Errorf("unexpected redirect location %q", loc)
	}

	// anonymous request to a public page
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plants", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected public page to be served, got %d", rec.Code)
	}

	// sign in and reuse the session cookie
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=ada@ub.edu.bz&password=s3cret"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected login to succeed, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/add", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected signed-in request to pass, got %d", rec.Code)
	}

	// logout expires the cookie
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	expired := rec.Result().Cookies()
	if len(expired) == 0 || expired[0].MaxAge >= 0 {
		t.Errorf("expected expired session cookie, got %+v", expired)
	}
}

func TestCurrentAdmin_TamperedCookie(t *testing.T) {
	manager := NewSessionManager(SessionConfig{Secret: "test-secret"}, newFakeAdmins(t, "s3cret"))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionName, Value: "garbage"})
	c := e.NewContext(req, httptest.NewRecorder())

	admin, err := manager.CurrentAdmin(c)
	if err != nil || admin != nil {
		t.Errorf("expected anonymous, got %+v, %v", admin, err)
	}
	if _, err := manager.RequireAdmin(c); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}
