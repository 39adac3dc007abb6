package handler

import (
	"errors"
	"net/http"
	"strings"

	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/middleware"
	"rpg-novel-server/internal/models"
	"rpg-novel-server/internal/payment"
	"rpg-novel-server/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIError - стандартный ответ об ошибке.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InsufficientFundsResponse - ответ 402 с путем к покупке.
type InsufficientFundsResponse struct {
	APIError
	CurrentBalance    int64        `json:"current_balance"`
	RequiredCoins     int64        `json:"required_coins"`
	PackagesAvailable []packageOut `json:"packages_available"`
}

// Config - параметры обработчиков.
type Config struct {
	HistoryWindow int
}

// Handler обрабатывает HTTP запросы сервера.
type Handler struct {
	stories  service.StoryService
	coins    service.CoinService
	payments service.PaymentService
	pix      *payment.Pix
	locker   interfaces.StoryLocker
	verifier interfaces.TokenVerifier
	cfg      Config
	logger   *zap.Logger
}

// NewHandler создает Handler.
func NewHandler(
	stories service.StoryService,
	coins service.CoinService,
	payments service.PaymentService,
	pix *payment.Pix,
	locker interfaces.StoryLocker,
	verifier interfaces.TokenVerifier,
	cfg Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		stories:  stories,
		coins:    coins,
		payments: payments,
		pix:      pix,
		locker:   locker,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.Named("HTTPHandler"),
	}
}

// echoValidator подключает validator/v10 к c.Validate.
type echoValidator struct {
	validate *validator.Validate
}

func (v *echoValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// NewValidator возвращает echo.Validator поверх validator/v10.
func NewValidator() echo.Validator {
	return &echoValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// RegisterRoutes регистрирует маршруты.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	if e.Validator == nil {
		e.Validator = NewValidator()
	}
	auth := middleware.BearerAuth(h.verifier, h.logger)

	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/auth/verify", h.verifyToken, auth)
	e.GET("/users/me", h.me, auth)

	stories := e.Group("/stories", auth)
	{
		stories.POST("", h.startStory)
		stories.GET("", h.listStories)
		stories.GET("/:id", h.getStory)
		stories.GET("/:id/steps", h.listSteps)
		stories.GET("/:id/current", h.getCurrentStep)
		stories.POST("/:id/choose", h.chooseStep)
		stories.POST("/:id/continue", h.continueStory)
	}

	coins := e.Group("/coins")
	{
		coins.GET("/packages", h.listPackages)
		coins.GET("/stripe/config", h.stripeConfig)
		coins.GET("/balance", h.getBalance, auth)
		coins.GET("/transactions", h.listTransactions, auth)
		coins.POST("/purchase", h.purchasePackage, auth)
		coins.POST("/admin/add-coins/:user_id", h.adminAddCoins, auth, middleware.RequireAdmin(h.logger))
	}

	e.POST("/webhooks/stripe", h.stripeWebhook)

	e.GET("/pix", h.pixKey)
	e.GET("/pix/payload", h.pixPayload)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// identity достает проверенного пользователя. Маршрут обязан стоять за BearerAuth.
func identity(c echo.Context) (*models.Identity, error) {
	id, ok := models.IdentityFromContext(c.Request().Context())
	if !ok {
		return nil, models.ErrUnauthenticated
	}
	return id, nil
}

// bindAndValidate читает тело запроса и проверяет теги validate.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return models.ErrInvalidInput
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return &validationError{msg: strings.Join(fields, "; ")}
		}
		return models.ErrInvalidInput
	}
	return nil
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return "validation failed: " + e.msg }

func (e *validationError) Is(target error) bool { return target == models.ErrInvalidInput }

func (h *Handler) handleServiceError(c echo.Context, err error) error {
	var (
		statusCode int
		apiErr     APIError
	)

	var insufficient *models.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return c.JSON(http.StatusPaymentRequired, InsufficientFundsResponse{
			APIError: APIError{
				Code:    "insufficient_funds",
				Message: "Not enough coins. Buy a package to continue.",
			},
			CurrentBalance:    insufficient.Balance,
			RequiredCoins:     insufficient.Required,
			PackagesAvailable: toPackagesOut(insufficient.Packages),
		})
	}

	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		statusCode = http.StatusUnauthorized
		apiErr = APIError{Code: "unauthenticated", Message: "Unauthorized"}
	case errors.Is(err, models.ErrPermissionDenied):
		statusCode = http.StatusForbidden
		apiErr = APIError{Code: "permission_denied", Message: "You do not have access to this resource"}
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Code: "not_found", Message: "Resource not found"}
	case errors.Is(err, models.ErrInvalidChoice):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "invalid_choice", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidAmount):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "invalid_input", Message: err.Error()}
	case errors.Is(err, models.ErrWebhookInvalid):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "invalid_webhook", Message: "Invalid webhook"}
	case errors.Is(err, models.ErrPayloadTooLarge):
		statusCode = http.StatusRequestEntityTooLarge
		apiErr = APIError{Code: "payload_too_large", Message: err.Error()}
	case errors.Is(err, models.ErrInsufficientFunds):
		statusCode = http.StatusPaymentRequired
		apiErr = APIError{Code: "insufficient_funds", Message: err.Error()}
	case errors.Is(err, models.ErrUpstreamUnavailable):
		statusCode = http.StatusGatewayTimeout
		apiErr = APIError{Code: "upstream_unavailable", Message: "Upstream service is unavailable, try again later"}
	case errors.Is(err, models.ErrUpstreamError), errors.Is(err, models.ErrMalformedUpstreamPayload):
		statusCode = http.StatusBadGateway
		apiErr = APIError{Code: "upstream_error", Message: "Upstream service returned an error"}
	case errors.Is(err, models.ErrStoryFinished):
		statusCode = http.StatusConflict
		apiErr = APIError{Code: "story_finished", Message: err.Error()}
	case errors.Is(err, models.ErrStoryBusy), errors.Is(err, models.ErrStepIndexConflict):
		statusCode = http.StatusConflict
		apiErr = APIError{Code: "story_busy", Message: models.ErrStoryBusy.Error()}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Code: "internal", Message: "Internal server error"}
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Int("status", statusCode), zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("path", c.Path()), zap.Int("status", statusCode), zap.Error(err))
	}
	return c.JSON(statusCode, apiErr)
}
