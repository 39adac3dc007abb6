package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"rpg-novel-server/internal/mocks"
	"rpg-novel-server/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(verifier *mocks.TokenVerifier) *echo.Echo {
	e := echo.New()
	e.Use(EchoZapLogger(zap.NewNop()))
	g := e.Group("", BearerAuth(verifier, zap.NewNop()))
	g.GET("/me", func(c echo.Context) error {
		id, _ := models.IdentityFromContext(c.Request().Context())
		return c.String(http.StatusOK, id.UserID)
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireAdmin(zap.NewNop()))
	return e
}

func TestBearerAuth(t *testing.T) {
	verifier := &mocks.TokenVerifier{}
	verifier.On("Verify", mock.Anything, "good").Return(&models.Identity{UserID: "u1"}, nil)
	verifier.On("Verify", mock.Anything, "admin").Return(&models.Identity{UserID: "root", Claims: map[string]any{models.AdminClaim: true}}, nil)
	verifier.On("Verify", mock.Anything, "bad").Return(nil, models.ErrUnauthenticated)
	verifier.On("Verify", mock.Anything, "boom").Return(nil, context.DeadlineExceeded)
	e := newTestServer(verifier)

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"Без заголовка", "/me", "", http.StatusUnauthorized, ""},
		{"Не bearer", "/me", "Basic abc", http.StatusUnauthorized, ""},
		{"Пустой токен", "/me", "Bearer ", http.StatusUnauthorized, ""},
		{"Невалидный токен", "/me", "Bearer bad", http.StatusUnauthorized, ""},
		{"Ошибка верификатора", "/me", "Bearer boom", http.StatusInternalServerError, ""},
		{"Успех", "/me", "Bearer good", http.StatusOK, "u1"},
		{"Регистр схемы", "/me", "bearer good", http.StatusOK, "u1"},
		{"Не админ", "/admin", "Bearer good", http.StatusForbidden, ""},
		{"Админ", "/admin", "Bearer admin", http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
