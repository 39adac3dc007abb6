package auth

import (
	"context"
	"fmt"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/models"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseConfig - параметры инициализации Firebase Admin SDK.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirebaseApp инициализирует Firebase App один раз при старте.
// Без файла ключа используются Application Default Credentials.
func NewFirebaseApp(ctx context.Context, cfg FirebaseConfig, logger *zap.Logger) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App: %w", err)
	}
	logger.Info("Firebase App инициализирован",
		zap.String("projectID", cfg.ProjectID),
		zap.Bool("credentialsFile", cfg.CredentialsFile != ""),
	)
	return app, nil
}

// FirebaseVerifier проверяет Firebase ID-токены.
type FirebaseVerifier struct {
	client *fbauth.Client
	logger *zap.Logger
}

var _ interfaces.TokenVerifier = (*FirebaseVerifier)(nil)

// NewFirebaseVerifier создает верификатор поверх Auth клиента приложения.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App, logger *zap.Logger) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения Firebase Auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, logger: logger.Named("FirebaseVerifier")}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*models.Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		v.logger.Debug("ID-токен не прошел проверку", zap.String("tokenSnippet", tokenSnippet(idToken)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	return identityFromClaims(token.UID, token.Claims), nil
}

// identityFromClaims собирает Identity из клеймов Firebase. Стандартные поля вынимаются из map.
func identityFromClaims(uid string, claims map[string]interface{}) *models.Identity {
	id := &models.Identity{UserID: uid, Claims: map[string]any{}}
	for k, val := range claims {
		switch k {
		case "email":
			id.Email, _ = val.(string)
		case "email_verified":
			id.EmailVerified, _ = val.(bool)
		case "iss", "aud", "auth_time", "user_id", "sub", "iat", "exp", "firebase":
		default:
			id.Claims[k] = val
		}
	}
	return id
}
