package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bazar-buzzer/internal/config"
	"github.com/iliyamo/bazar-buzzer/internal/handler"
	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/utils"
)

type stubAdmin struct{ resets int }

func (s *stubAdmin) ResetPresses(context.Context) (int64, error) { s.resets++; return 0, nil }
func (s *stubAdmin) PurgeAll(context.Context) (int64, error)     { return 0, nil }
func (s *stubAdmin) List(context.Context) ([]model.Participant, error) {
	return nil, nil
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	const secret = "router-secret"
	admin := &stubAdmin{}
	e := echo.New()
	RegisterAdmin(e, handler.NewAdminHandler(config.Config{JWTSecret: secret}, admin), secret)

	adminTok, err := utils.NewAccessToken(secret, "ops@example.com", utils.RoleAdmin, 5)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	otherTok, err := utils.NewAccessToken(secret, "guest@example.com", "GUEST", 5)
	if err != nil {
		t.Fatalf("issue guest token: %v", err)
	}
	foreignTok, err := utils.NewAccessToken("other-secret", "ops@example.com", utils.RoleAdmin, 5)
	if err != nil {
		t.Fatalf("issue foreign token: %v", err)
	}

	cases := []struct {
		name   string
		auth   string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Token " + adminTok.Token, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreignTok.Token, http.StatusUnauthorized},
		{"wrong role", "Bearer " + otherTok.Token, http.StatusForbidden},
		{"admin", "Bearer " + adminTok.Token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/reset", nil)
			if tc.auth != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.auth)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}
	if admin.resets != 1 {
		t.Fatalf("reset ran %d times, want 1", admin.resets)
	}
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
