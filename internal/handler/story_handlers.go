package handler

import (
	"net/http"
	"strconv"

	"rpg-novel-server/internal/models"
	"rpg-novel-server/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *Handler) startStory(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	var req startStoryRequest
	if err := bindAndValidate(c, &req); err != nil {
		h.logger.Warn("Invalid request body for startStory", zap.String("userID", id.UserID), zap.Error(err))
		return h.handleServiceError(c, err)
	}

	step, err := h.stories.Start(c.Request().Context(), service.StartInput{
		OwnerID:        id.UserID,
		Theme:          req.ThemePrompt,
		Character:      req.CharacterPrompt,
		InitialChoices: req.InitialChoices,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toStepOut(step))
}

func (h *Handler) listStories(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	limit, err := parseLimit(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	summaries, err := h.stories.ListStories(c.Request().Context(), id.UserID, limit)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	if summaries == nil {
		summaries = []*models.StorySummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

func (h *Handler) getStory(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	story, err := h.stories.GetStory(c.Request().Context(), c.Param("id"), id.UserID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, story)
}

func (h *Handler) listSteps(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	steps, err := h.stories.ListSteps(c.Request().Context(), c.Param("id"), id.UserID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	out := make([]stepOut, 0, len(steps))
	for _, s := range steps {
		out = append(out, toStepOut(s))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) getCurrentStep(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	step, err := h.stories.GetCurrentStep(c.Request().Context(), c.Param("id"), id.UserID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toStepOut(step))
}

func (h *Handler) chooseStep(c echo.Context) error {
	var req chooseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return h.handleServiceError(c, err)
	}
	return h.advance(c, req.ChoiceIndex)
}

func (h *Handler) continueStory(c echo.Context) error {
	return h.advance(c, nil)
}

// advance продвигает историю под блокировкой, чтобы два запроса не сгенерировали один индекс.
func (h *Handler) advance(c echo.Context, choice *int) error {
	id, err := identity(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	storyID := c.Param("id")
	ctx := c.Request().Context()

	unlock, err := h.locker.Lock(ctx, storyID)
	if err != nil {
		return h.handleServiceError(c, err)
	}
	defer unlock()

	step, err := h.stories.Advance(ctx, service.AdvanceInput{
		StoryID:       storyID,
		OwnerID:       id.UserID,
		ChosenIndex:   choice,
		HistoryWindow: h.cfg.HistoryWindow,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toStepOut(step))
}

// parseLimit читает ?limit=. Пусто - значение сервиса по умолчанию.
func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, &validationError{msg: "limit must be a non-negative integer"}
	}
	return limit, nil
}
