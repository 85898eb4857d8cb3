package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vigil/internal/auth"
)

func enableAuth(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_ENABLED", "true")
	for _, key := range []string{
		"ADMIN_USERNAME", "ADMIN_PASSWORD",
		"OPERATOR_USERNAME", "OPERATOR_PASSWORD",
		"JWT_SECRET", "JWT_EXPIRY",
	} {
		t.Setenv(key, "")
	}
}

func token(t *testing.T, a *auth.Authenticator, username, password string) string {
	t.Helper()
	tok, _, err := a.Authenticate(username, password)
	if err != nil {
		t.Fatalf("Authenticate(%s): %v", username, err)
	}
	return tok
}

func do(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/status", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewarePassesWhenDisabled(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "")
	a := auth.NewAuthenticator()
	handler := AuthMiddleware(a)(okHandler())

	if rec := do(handler, ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	enableAuth(t)
	a := auth.NewAuthenticator()
	handler := AuthMiddleware(a)(okHandler())

	if rec := do(handler, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	enableAuth(t)
	a := auth.NewAuthenticator()
	handler := AuthMiddleware(a)(okHandler())

	if rec := do(handler, "Token abc"); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec := do(handler, "Bearer garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewarePutsClaimsInContext(t *testing.T) {
	enableAuth(t)
	a := auth.NewAuthenticator()

	var seen *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(a)(inner)

	rec := do(handler, "Bearer "+token(t, a, "admin", "admin123"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.Username != "admin" || seen.Role != auth.RoleAdmin {
		t.Errorf("claims = %+v", seen)
	}
}

func TestRequireAdmin(t *testing.T) {
	enableAuth(t)
	a := auth.NewAuthenticator()
	handler := AuthMiddleware(a)(RequireAdmin(a)(okHandler()))

	if rec := do(handler, "Bearer "+token(t, a, "operator", "operator123")); rec.Code != http.StatusForbidden {
		t.Errorf("operator status = %d, want 403", rec.Code)
	}
	if rec := do(handler, "Bearer "+token(t, a, "admin", "admin123")); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}

func TestRequireAdminPassesWhenDisabled(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "")
	a := auth.NewAuthenticator()
	handler := RequireAdmin(a)(okHandler())

	if rec := do(handler, ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
