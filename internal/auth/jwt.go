package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims - клеймы локального HS256 токена. Subject содержит ID пользователя.
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Admin         bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier проверяет HS256 токены. Используется для локальной разработки вместо Firebase.
type JWTVerifier struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

var _ interfaces.TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier создает JWTVerifier. Пустой issuer не проверяется.
func NewJWTVerifier(secret, issuer string, logger *zap.Logger) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger.Named("JWTVerifier"),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*models.Identity, error) {
	log := v.logger.With(zap.String("tokenSnippet", tokenSnippet(tokenString)))
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		log.Debug("Токен не прошел проверку", zap.Error(err))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: token expired", models.ErrUnauthenticated)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: token malformed", models.ErrUnauthenticated)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: invalid signature", models.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		log.Warn("В токене нет subject")
		return nil, fmt.Errorf("%w: subject missing", models.ErrUnauthenticated)
	}

	extra := map[string]any{}
	if claims.Admin {
		extra[models.AdminClaim] = true
	}
	return &models.Identity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Claims:        extra,
	}, nil
}

// IssueToken подписывает токен для userID. Используется в dev-окружении и тестах.
func (v *JWTVerifier) IssueToken(userID, email string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:         email,
		EmailVerified: email != "",
		Admin:         admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// tokenSnippet возвращает безопасную для логирования часть токена.
func tokenSnippet(tokenString string) string {
	const limit = 15
	if len(tokenString) > limit {
		return tokenString[:limit] + "..."
	}
	return tokenString
}
