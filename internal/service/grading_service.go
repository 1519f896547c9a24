package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates the submission was not located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrGradingResultNotFound indicates the submission has not been graded yet.
	ErrGradingResultNotFound = errors.New("grading result not found")
)

// GradingRunner executes one grading run.
type GradingRunner interface {
	Run(ctx context.Context, req grading.RunRequest) grading.ResultRecord
}

// GradingCache exposes operator controls over the fingerprint cache.
type GradingCache interface {
	Stats(ctx context.Context) (grading.CacheStats, error)
	Clear(ctx context.Context, pattern string) (int64, error)
}

// GradingService grades submissions and serves their results.
type GradingService interface {
	Grade(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest) (grading.ResultRecord, error)
	Result(ctx context.Context, submissionID uint) (grading.ResultRecord, error)
	CacheStats(ctx context.Context) (dto.GradingCacheStatsResponse, error)
	ClearCache(ctx context.Context, pattern string) (dto.GradingCacheClearResponse, error)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	results     repository.GradingResultRepository
	runner      GradingRunner
	cache       GradingCache
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewGradingService constructs the grading service.
func NewGradingService(
	submissions repository.SubmissionRepository,
	results repository.GradingResultRepository,
	runner GradingRunner,
	cache GradingCache,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		submissions: submissions,
		results:     results,
		runner:      runner,
		cache:       cache,
		validator:   validate,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		logger:      logger.With().Str("component", "grading_service").Logger(),
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID uint, payload dto.GradeSubmissionRequest) (grading.ResultRecord, error) {
	ctx, span := s.tracer.Start(ctx, "grading.submit", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return grading.ResultRecord{}, err
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return grading.ResultRecord{}, ErrSubmissionNotFound
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return grading.ResultRecord{}, err
	}

	if err := s.submissions.UpdateStatus(ctx, submission.ID, models.SubmissionStatusGrading); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to mark submission as grading")
	}

	cfg := BuildGradingConfig(submission.Assignment, payload)
	record := s.runner.Run(ctx, grading.RunRequest{
		SubmissionID: strconv.FormatUint(uint64(submission.ID), 10),
		AssignmentID: strconv.FormatUint(uint64(submission.AssignmentID), 10),
		UserID:       strconv.FormatUint(uint64(submission.StudentID), 10),
		Config:       cfg,
	})

	span.SetAttributes(
		attribute.String("grading.status", string(record.Status)),
		attribute.Float64("grading.score", record.Score),
		attribute.Bool("grading.from_cache", record.FromCache),
	)
	if record.Status == grading.StatusFailed {
		span.SetStatus(codes.Error, "grading_failed")
	}

	return record, nil
}

func (s *gradingService) Result(ctx context.Context, submissionID uint) (grading.ResultRecord, error) {
	stored, err := s.results.GetBySubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return grading.ResultRecord{}, ErrGradingResultNotFound
		}
		return grading.ResultRecord{}, err
	}

	var record grading.ResultRecord
	if err := json.Unmarshal(stored.Payload, &record); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("stored grading payload is corrupt")
		return grading.ResultRecord{}, err
	}

	return record, nil
}

func (s *gradingService) CacheStats(ctx context.Context) (dto.GradingCacheStatsResponse, error) {
	if s.cache == nil {
		return dto.GradingCacheStatsResponse{}, nil
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return dto.GradingCacheStatsResponse{}, err
	}
	return dto.NewGradingCacheStatsResponse(stats), nil
}

func (s *gradingService) ClearCache(ctx context.Context, pattern string) (dto.GradingCacheClearResponse, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "*"
	}
	response := dto.GradingCacheClearResponse{Pattern: pattern}
	if s.cache == nil {
		return response, nil
	}

	deleted, err := s.cache.Clear(ctx, pattern)
	if err != nil {
		return response, err
	}
	response.Deleted = deleted
	s.logger.Info().Int64("deleted", deleted).Str("pattern", pattern).Msg("grading cache cleared on request")
	return response, nil
}

// BuildGradingConfig merges request overrides over the assignment's standard.
func BuildGradingConfig(assignment models.Assignment, payload dto.GradeSubmissionRequest) grading.Config {
	cfg := grading.Config{
		Mode:     grading.Mode(firstNonEmpty(payload.Mode, assignment.GradingMode)),
		MaxScore: assignment.EffectiveMaxScore(),
		Standard: grading.Standard{
			Criteria:        firstNonEmpty(payload.Criteria, assignment.GradingCriteria),
			ReferenceAnswer: firstNonEmpty(payload.ReferenceAnswer, assignment.ReferenceAnswer),
		},
		Strictness:    grading.Strictness(firstNonEmpty(payload.Strictness, assignment.Strictness, string(grading.StrictnessStandard))),
		Subject:       firstNonEmpty(payload.Subject, assignment.Subject),
		QuestionCount: assignment.QuestionCount,
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = grading.ModeAuto
	}
	if payload.MaxScore != nil && *payload.MaxScore > 0 {
		cfg.MaxScore = *payload.MaxScore
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
