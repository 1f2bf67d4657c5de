package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func okHandler(t *testing.T, wantUser, wantRole string) (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if got := GetUserID(r); got != wantUser {
			t.Errorf("expected user %q, got %q", wantUser, got)
		}
		if got := GetUserRole(r); got != wantRole {
			t.Errorf("expected role %q, got %q", wantRole, got)
		}
		if GetJWTClaims(r) == nil {
			t.Error("expected claims to be non-nil")
		}
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestRequireAuth_ValidToken(t *testing.T) {
	m := NewJWTAuthMiddleware(testSecret, "agora", false)
	token, err := m.SignToken("user-1", RoleModerator, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	next, called := okHandler(t, "user-1", RoleModerator)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	m.RequireAuth(next).ServeHTTP(w, req)

	if !*called {
		t.Error("handler was not called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	m := NewJWTAuthMiddleware(testSecret, "agora", false)
	expired, _ := m.SignToken("user-1", "", -time.Hour)
	otherIssuer, _ := NewJWTAuthMiddleware(testSecret, "elsewhere", false).SignToken("user-1", "", time.Hour)
	wrongKey, _ := NewJWTAuthMiddleware([]byte("other"), "agora", false).SignToken("user-1", "", time.Hour)
	noSubject, _ := m.SignToken("", "", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"iss": "agora",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	valid, _ := m.SignToken("user-1", "", time.Hour)

	tests := []struct {
		name   string
		header string
		query  string
	}{
		{name: "missing header"},
		{name: "not bearer", header: "Basic abc"},
		{name: "expired", header: "Bearer " + expired},
		{name: "wrong issuer", header: "Bearer " + otherIssuer},
		{name: "wrong key", header: "Bearer " + wrongKey},
		{name: "no subject", header: "Bearer " + noSubject},
		{name: "alg none", header: "Bearer " + none},
		{name: "query token not allowed", query: valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, called := okHandler(t, "", "")
			target := "/test"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			m.RequireAuth(next).ServeHTTP(w, req)

			if *called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireAuth_QueryToken(t *testing.T) {
	m := NewJWTAuthMiddleware(testSecret, "", true)
	token, _ := m.SignToken("user-2", "", time.Hour)

	next, called := okHandler(t, "user-2", "")
	req := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	w := httptest.NewRecorder()
	m.RequireAuth(next).ServeHTTP(w, req)

	if !*called {
		t.Error("handler was not called")
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireRole(RoleModerator)(next)

	req := httptest.NewRequest(http.MethodDelete, "/exports/x", nil)
	req = req.WithContext(SetTestUserRole(SetTestUserID(req.Context(), "user-1"), "member"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}

	req = req.WithContext(SetTestUserRole(req.Context(), RoleModerator))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, 100)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/votes", nil)
		req = req.WithContext(SetTestUserID(req.Context(), user))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Errorf("other users are unaffected, got %d", code)
	}
}
