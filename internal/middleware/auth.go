package middleware

import (
	"errors"
	"net/http"
	"strings"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorBody - тело ответа об ошибке.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BearerAuth проверяет заголовок Authorization и кладет Identity в контекст запроса.
func BearerAuth(verifier interfaces.TokenVerifier, logger *zap.Logger) echo.MiddlewareFunc {
	log := logger.Named("BearerAuth")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Missing bearer token"})
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				log.Warn("Malformed Authorization header", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Malformed Authorization header"})
			}

			identity, err := verifier.Verify(c.Request().Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				if !errors.Is(err, models.ErrUnauthenticated) {
					log.Error("Unexpected token verification error", zap.Error(err))
					return c.JSON(http.StatusInternalServerError, ErrorBody{Code: "internal", Message: "Internal server error during token verification"})
				}
				log.Debug("Token verification failed", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Invalid or expired token"})
			}

			ctx := models.WithIdentity(c.Request().Context(), identity)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAdmin пропускает только пользователей с custom claim admin. Ставится после BearerAuth.
func RequireAdmin(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := identityFromEcho(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, ErrorBody{Code: "unauthenticated", Message: "Missing identity"})
			}
			if !identity.IsAdmin() {
				logger.Warn("Admin route denied", zap.String("userID", identity.UserID), zap.String("path", c.Path()))
				return c.JSON(http.StatusForbidden, ErrorBody{Code: "permission_denied", Message: "Admin privileges required"})
			}
			return next(c)
		}
	}
}

func identityFromEcho(c echo.Context) (*models.Identity, bool) {
	return models.IdentityFromContext(c.Request().Context())
}
