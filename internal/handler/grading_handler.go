package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler exposes the grading pipeline over HTTP.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches submission grading routes. Extra handlers run before a grading request only.
func (h *GradingHandler) Register(router fiber.Router, gradeMiddleware ...fiber.Handler) {
	router.Post("/:id", append(gradeMiddleware, h.grade)...)
	router.Get("/:id/result", h.result)
}

// RegisterCache attaches cache administration routes.
func (h *GradingHandler) RegisterCache(router fiber.Router) {
	router.Get("/stats", h.cacheStats)
	router.Delete("/", h.clearCache)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.GradeSubmissionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	record, err := h.service.Grade(c.UserContext(), id, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case isValidationError(err):
			return utils.SendValidationError(c, err)
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to grade submission")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to grade submission")
		}
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", id).
		Uint("requested_by", middleware.CurrentPrincipal(c).UserID).
		Str("status", string(record.Status)).
		Bool("from_cache", record.FromCache).
		Msg("grading run finished")

	if record.Status == grading.StatusFailed {
		return utils.SendSuccessWithStatus(c, fiber.StatusUnprocessableEntity, "grading failed", record)
	}
	return utils.SendSuccess(c, "submission graded", record)
}

func (h *GradingHandler) result(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	record, err := h.service.Result(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, service.ErrGradingResultNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading result not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", id).Msg("failed to load grading result")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading result")
	}

	return utils.SendSuccess(c, "grading result retrieved", record)
}

func (h *GradingHandler) cacheStats(c *fiber.Ctx) error {
	stats, err := h.service.CacheStats(c.UserContext())
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to read grading cache stats")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grading cache unavailable")
	}
	return utils.SendSuccess(c, "grading cache stats", stats)
}

func (h *GradingHandler) clearCache(c *fiber.Ctx) error {
	response, err := h.service.ClearCache(c.UserContext(), c.Query("pattern"))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to clear grading cache")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "grading cache unavailable")
	}
	return utils.SendSuccess(c, "grading cache cleared", response)
}
