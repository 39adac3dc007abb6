package handler

import (
	"net/http"
	"strconv"

	"rpg-novel-server/internal/models"

	"github.com/labstack/echo/v4"
)

func (h *Handler) me(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	account, err := h.coins.GetBalance(c.Request().Context(), id.UserID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	claims := id.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	return c.JSON(http.StatusOK, meOut{
		UID:              id.UserID,
		Email:            id.Email,
		EmailVerified:    id.EmailVerified,
		Claims:           claims,
		CoinBalance:      account.Balance,
		TotalCoinsEarned: account.TotalEarned,
		TotalCoinsSpent:  account.TotalSpent,
	})
}

func (h *Handler) verifyToken(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uid":            id.UserID,
		"email":          id.Email,
		"email_verified": id.EmailVerified,
	})
}

func (h *Handler) pixKey(c echo.Context) error {
	if h.pix == nil || !h.pix.Enabled() {
		return h.handleServiceError(c, models.ErrNotFound)
	}
	return c.JSON(http.StatusOK, map[string]string{"pix_key": h.pix.Key()})
}

// pixPayload отдает BR Code. ?amount_cents= фиксирует сумму.
func (h *Handler) pixPayload(c echo.Context) error {
	if h.pix == nil || !h.pix.Enabled() {
		return h.handleServiceError(c, models.ErrNotFound)
	}
	var amount int64
	if raw := c.QueryParam("amount_cents"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return h.handleServiceError(c, &validationError{msg: "amount_cents must be a non-negative integer"})
		}
		amount = v
	}
	payload, err := h.pix.StaticPayload(amount)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"payload": payload})
}
