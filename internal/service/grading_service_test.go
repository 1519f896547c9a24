package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeSubmissionRepo struct {
	submission  models.Submission
	err         error
	statusCalls []string
	updateErr   error
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	if f.err != nil {
		return models.Submission{}, f.err
	}
	return f.submission, nil
}

func (f *fakeSubmissionRepo) UpdateStatus(ctx context.Context, id uint, status string) error {
	f.statusCalls = append(f.statusCalls, status)
	return f.updateErr
}

type fakeResultRepo struct {
	saved    *models.GradingResult
	feedback string
	stored   models.GradingResult
	err      error
}

func (f *fakeResultRepo) Save(ctx context.Context, result *models.GradingResult, feedback string) error {
	if f.err != nil {
		return f.err
	}
	f.saved = result
	f.feedback = feedback
	return nil
}

func (f *fakeResultRepo) GetBySubmission(ctx context.Context, submissionID uint) (models.GradingResult, error) {
	if f.err != nil {
		return models.GradingResult{}, f.err
	}
	return f.stored, nil
}

type fakeRunner struct {
	requests []grading.RunRequest
	record   grading.ResultRecord
}

func (f *fakeRunner) Run(ctx context.Context, req grading.RunRequest) grading.ResultRecord {
	f.requests = append(f.requests, req)
	record := f.record
	record.SubmissionID = req.SubmissionID
	return record
}

type fakeCache struct {
	stats   grading.CacheStats
	pattern string
	deleted int64
	err     error
}

func (f *fakeCache) Stats(ctx context.Context) (grading.CacheStats, error) {
	return f.stats, f.err
}

func (f *fakeCache) Clear(ctx context.Context, pattern string) (int64, error) {
	f.pattern = pattern
	return f.deleted, f.err
}

func newTestGradingService(subs *fakeSubmissionRepo, results *fakeResultRepo, runner *fakeRunner, cache GradingCache) GradingService {
	return NewGradingService(subs, results, runner, cache, validator.New(validator.WithRequiredStructEnabled()), testLogger())
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestBuildGradingConfigMergesOverrides(t *testing.T) {
	assignment := models.Assignment{
		Subject:         "math",
		MaxScore:        30,
		GradingCriteria: "check each sum",
		ReferenceAnswer: "1. 7 2. 30",
		Strictness:      "strict",
		GradingMode:     "premium",
		QuestionCount:   2,
	}

	cfg := BuildGradingConfig(assignment, dto.GradeSubmissionRequest{})
	require.Equal(t, grading.ModePremium, cfg.Mode)
	require.Equal(t, 30.0, cfg.MaxScore)
	require.Equal(t, grading.StrictnessStrict, cfg.Strictness)
	require.Equal(t, "check each sum", cfg.Standard.Criteria)
	require.Equal(t, "1. 7 2. 30", cfg.Standard.ReferenceAnswer)
	require.Equal(t, "math", cfg.Subject)
	require.Equal(t, 2, cfg.QuestionCount)

	cfg = BuildGradingConfig(assignment, dto.GradeSubmissionRequest{
		Mode:       "fast",
		Strictness: "loose",
		MaxScore:   floatPtr(10),
		Criteria:   "  be kind  ",
		Subject:    "physics",
	})
	require.Equal(t, grading.ModeFast, cfg.Mode)
	require.Equal(t, 10.0, cfg.MaxScore)
	require.Equal(t, grading.StrictnessLoose, cfg.Strictness)
	require.Equal(t, "be kind", cfg.Standard.Criteria)
	require.Equal(t, "physics", cfg.Subject)
}

func TestBuildGradingConfigDefaults(t *testing.T) {
	cfg := BuildGradingConfig(models.Assignment{GradingMode: "turbo"}, dto.GradeSubmissionRequest{})
	require.Equal(t, grading.ModeAuto, cfg.Mode)
	require.Equal(t, 100.0, cfg.MaxScore)
	require.Equal(t, grading.StrictnessStandard, cfg.Strictness)
	require.Empty(t, cfg.Standard.Criteria)
}

func TestGradingServiceGrade(t *testing.T) {
	subs := &fakeSubmissionRepo{submission: models.Submission{
		ID:           5,
		AssignmentID: 3,
		StudentID:    12,
		Assignment:   models.Assignment{ID: 3, MaxScore: 20, GradingMode: "standard"},
	}}
	runner := &fakeRunner{record: grading.ResultRecord{Status: grading.StatusCompleted, Score: 18, MaxScore: 20}}
	svc := newTestGradingService(subs, &fakeResultRepo{}, runner, nil)

	record, err := svc.Grade(context.Background(), 5, dto.GradeSubmissionRequest{Strictness: "strict"})
	require.NoError(t, err)
	require.Equal(t, grading.StatusCompleted, record.Status)
	require.Equal(t, 18.0, record.Score)

	require.Equal(t, []string{models.SubmissionStatusGrading}, subs.statusCalls)
	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	require.Equal(t, "5", req.SubmissionID)
	require.Equal(t, "3", req.AssignmentID)
	require.Equal(t, "12", req.UserID)
	require.Equal(t, grading.ModeStandard, req.Config.Mode)
	require.Equal(t, grading.StrictnessStrict, req.Config.Strictness)
	require.Equal(t, 20.0, req.Config.MaxScore)
}

func TestGradingServiceGradeReturnsFailedRecords(t *testing.T) {
	subs := &fakeSubmissionRepo{
		submission: models.Submission{ID: 5, Assignment: models.Assignment{MaxScore: 20}},
		updateErr:  errors.New("database is locked"),
	}
	runner := &fakeRunner{record: grading.ResultRecord{Status: grading.StatusFailed, ErrorMessage: "validation: files: submission has no files"}}
	svc := newTestGradingService(subs, &fakeResultRepo{}, runner, nil)

	record, err := svc.Grade(context.Background(), 5, dto.GradeSubmissionRequest{})
	require.NoError(t, err)
	require.Equal(t, grading.StatusFailed, record.Status)
	require.Contains(t, record.ErrorMessage, "no files")
}

func TestGradingServiceGradeErrors(t *testing.T) {
	runner := &fakeRunner{}

	svc := newTestGradingService(&fakeSubmissionRepo{err: gorm.ErrRecordNotFound}, &fakeResultRepo{}, runner, nil)
	_, err := svc.Grade(context.Background(), 9, dto.GradeSubmissionRequest{})
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	svc = newTestGradingService(&fakeSubmissionRepo{}, &fakeResultRepo{}, runner, nil)
	_, err = svc.Grade(context.Background(), 9, dto.GradeSubmissionRequest{Mode: "turbo"})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	_, err = svc.Grade(context.Background(), 9, dto.GradeSubmissionRequest{MaxScore: floatPtr(-5)})
	require.ErrorAs(t, err, &validationErrs)

	dbDown := errors.New("connection refused")
	svc = newTestGradingService(&fakeSubmissionRepo{err: dbDown}, &fakeResultRepo{}, runner, nil)
	_, err = svc.Grade(context.Background(), 9, dto.GradeSubmissionRequest{})
	require.ErrorIs(t, err, dbDown)

	require.Empty(t, runner.requests)
}

func TestGradingServiceResult(t *testing.T) {
	payload, err := json.Marshal(grading.ResultRecord{SubmissionID: "5", Status: grading.StatusCompleted, Score: 18, GradeLevel: "A"})
	require.NoError(t, err)

	results := &fakeResultRepo{stored: models.GradingResult{SubmissionID: 5, Payload: datatypes.JSON(payload)}}
	svc := newTestGradingService(&fakeSubmissionRepo{}, results, &fakeRunner{}, nil)

	record, err := svc.Result(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 18.0, record.Score)
	require.Equal(t, "A", record.GradeLevel)

	svc = newTestGradingService(&fakeSubmissionRepo{}, &fakeResultRepo{err: gorm.ErrRecordNotFound}, &fakeRunner{}, nil)
	_, err = svc.Result(context.Background(), 5)
	require.ErrorIs(t, err, ErrGradingResultNotFound)

	corrupt := &fakeResultRepo{stored: models.GradingResult{Payload: datatypes.JSON(`{"score": "high"}`)}}
	svc = newTestGradingService(&fakeSubmissionRepo{}, corrupt, &fakeRunner{}, nil)
	_, err = svc.Result(context.Background(), 5)
	require.Error(t, err)
}

func TestGradingServiceCache(t *testing.T) {
	cache := &fakeCache{stats: grading.CacheStats{Enabled: true, Entries: 3, TTL: grading.DefaultCacheTTL}, deleted: 2}
	svc := newTestGradingService(&fakeSubmissionRepo{}, &fakeResultRepo{}, &fakeRunner{}, cache)

	stats, err := svc.CacheStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, dto.GradingCacheStatsResponse{Enabled: true, Entries: 3, TTLSeconds: 604800, TTL: "168h0m0s"}, stats)

	cleared, err := svc.ClearCache(context.Background(), "  ")
	require.NoError(t, err)
	require.Equal(t, "*", cache.pattern)
	require.Equal(t, dto.GradingCacheClearResponse{Deleted: 2, Pattern: "*"}, cleared)

	cache.err = errors.New("redis down")
	_, err = svc.CacheStats(context.Background())
	require.Error(t, err)
	_, err = svc.ClearCache(context.Background(), "ab*")
	require.Error(t, err)
	require.Equal(t, "ab*", cache.pattern)

	disabled := newTestGradingService(&fakeSubmissionRepo{}, &fakeResultRepo{}, &fakeRunner{}, nil)
	cleared, err = disabled.ClearCache(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, cleared.Deleted)
}
