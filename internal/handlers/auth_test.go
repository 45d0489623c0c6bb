package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/database"
	"github.com/painelssh/sshpanel/internal/middleware"
)

func setPassword(t *testing.T, e *testEnv, u *database.User, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := database.UpdateUserPassword(e.api.DB, u.ID, hash); err != nil {
		t.Fatalf("update password: %v", err)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	e := setupTestEnv(t)
	setPassword(t, e, &e.reseller, "hunter22")

	w := e.do(t, "POST", "/api/v1/auth/login", map[string]string{"username": "res", "password": "hunter22"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := parseResponse(t, w)["token"].(string)
	if token == "" {
		t.Fatal("expected a token")
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != token || !cookie.HttpOnly {
		t.Fatalf("session cookie not set correctly: %+v", cookie)
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	if got := parseResponse(t, rec)["username"]; got != "res" {
		t.Errorf("username = %v", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e := setupTestEnv(t)
	setPassword(t, e, &e.reseller, "hunter22")

	w := e.do(t, "POST", "/api/v1/auth/login", map[string]string{"username": "res", "password": "nope"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLoginSuspendedAccount(t *testing.T) {
	e := setupTestEnv(t)
	setPassword(t, e, &e.client, "hunter22")
	e.api.DB.Model(&e.client).Update("status", database.StatusSuspended)

	w := e.do(t, "POST", "/api/v1/auth/login", map[string]string{"username": "cli", "password": "hunter22"}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGetCurrentUserDirect(t *testing.T) {
	e := setupTestEnv(t)
	req := middleware.WithUserForTest(httptest.NewRequest("GET", "/api/v1/auth/me", nil), &e.admin)
	w := httptest.NewRecorder()
	e.api.GetCurrentUser(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	result := parseResponse(t, w)
	if result["role"] != "admin" {
		t.Errorf("role = %v", result["role"])
	}
	if _, ok := result["password_hash"]; ok {
		t.Error("password hash must not be serialized")
	}
}

func TestLogoutEndsSession(t *testing.T) {
	e := setupTestEnv(t)
	token, _ := e.api.Sessions.Create(e.reseller.ID)

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := e.api.Sessions.Get(token); ok {
		t.Error("session should be gone after logout")
	}
}

func TestSetupOnlyOnEmptyDatabase(t *testing.T) {
	e := setupTestEnv(t)
	w := e.do(t, "GET", "/api/v1/auth/setup-required", nil, nil)
	if parseResponse(t, w)["setup_required"] != false {
		t.Error("setup should not be required with existing users")
	}
	w = e.do(t, "POST", "/api/v1/auth/setup", map[string]string{"username": "intruder", "password": "hunter22"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	empty := setupTestEnv(t)
	empty.api.DB.Exec("DELETE FROM users")
	w = empty.do(t, "POST", "/api/v1/auth/setup", map[string]string{"username": "root", "password": "hunter22"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if parseResponse(t, w)["role"] != "admin" {
		t.Error("setup should create an admin")
	}
}
