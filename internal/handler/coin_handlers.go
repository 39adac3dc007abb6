package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"rpg-novel-server/internal/models"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultTransactionsLimit = 50
	maxWebhookBodyBytes      = 256 << 10
)

func (h *Handler) getBalance(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	account, err := h.coins.GetBalance(c.Request().Context(), id.UserID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, balanceOut{
		Balance:     account.Balance,
		TotalEarned: account.TotalEarned,
		TotalSpent:  account.TotalSpent,
	})
}

func (h *Handler) listTransactions(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	limit, err := parseLimit(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	if limit == 0 {
		limit = defaultTransactionsLimit
	}

	txs, err := h.coins.ListTransactions(c.Request().Context(), id.UserID, limit)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	if txs == nil {
		txs = []*models.CoinTransaction{}
	}
	return c.JSON(http.StatusOK, txs)
}

func (h *Handler) listPackages(c echo.Context) error {
	return c.JSON(http.StatusOK, toPackagesOut(h.coins.ListPackages()))
}

func (h *Handler) purchasePackage(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	var req purchaseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return h.handleServiceError(c, err)
	}

	result, err := h.payments.CreateCheckout(c.Request().Context(), id.UserID, id.Email, req.PackageID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) stripeConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"publishable_key": h.payments.PublishableKey()})
}

// stripeWebhook принимает сырое тело: подпись считается по байтам запроса.
func (h *Handler) stripeWebhook(c echo.Context) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return h.handleServiceError(c, fmt.Errorf("%w: лимит %d байт", models.ErrPayloadTooLarge, tooLarge.Limit))
		}
		return h.handleServiceError(c, fmt.Errorf("%w: не удалось прочитать тело", models.ErrWebhookInvalid))
	}
	signature := c.Request().Header.Get("Stripe-Signature")

	if err := h.payments.HandleWebhook(c.Request().Context(), payload, signature); err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) adminAddCoins(c echo.Context) error {
	admin, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	userID := c.Param("user_id")

	var req addCoinsRequest
	if err := c.Bind(&req); err != nil {
		return h.handleServiceError(c, models.ErrInvalidInput)
	}
	if err := echo.QueryParamsBinder(c).
		Int64("amount", &req.Amount).
		String("description", &req.Description).
		BindError(); err != nil {
		return h.handleServiceError(c, models.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return h.handleServiceError(c, &validationError{msg: "amount must be positive"})
	}
	if req.Description == "" {
		req.Description = "Coins added by admin"
	}

	account, err := h.coins.Credit(c.Request().Context(), userID, req.Amount, models.TransactionAdminBonus, req.Description, nil)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	h.logger.Info("Admin credited coins",
		zap.String("adminID", admin.UserID),
		zap.String("userID", userID),
		zap.Int64("amount", req.Amount),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"message":     fmt.Sprintf("%d coins added", req.Amount),
		"new_balance": account.Balance,
	})
}
