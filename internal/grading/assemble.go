package grading

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ResultRecord is the immutable outcome of a run, returned to callers and
// persisted with the submission.
type ResultRecord struct {
	SubmissionID     string            `json:"submission_id"`
	AssignmentID     string            `json:"assignment_id"`
	Status           Status            `json:"status"`
	Score            float64           `json:"score"`
	MaxScore         float64           `json:"max_score"`
	Percentage       float64           `json:"percentage"`
	GradeLevel       string            `json:"grade_level"`
	Confidence       float64           `json:"confidence"`
	Errors           []ErrorItem       `json:"errors"`
	Feedback         string            `json:"feedback"`
	Suggestions      []string          `json:"suggestions"`
	KnowledgePoints  []KnowledgePoint  `json:"knowledge_points"`
	QuestionSegments []QuestionSegment `json:"question_segments"`
	GradingResults   []QuestionGrading `json:"grading_results"`
	AnnotatedResults []QuestionGrading `json:"annotated_results"`
	Warnings         []string          `json:"warnings"`
	GradingMode      Mode              `json:"grading_mode"`
	Complexity       Tier              `json:"complexity,omitempty"`
	FromCache        bool              `json:"from_cache"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// GradeLevel buckets a percentage into A-F.
func GradeLevel(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// ResultAssembler compiles a finished state into a ResultRecord and writes it
// through to the result store.
type ResultAssembler struct {
	store  ResultStore
	logger zerolog.Logger
}

// NewResultAssembler builds an assembler. A nil store skips persistence.
func NewResultAssembler(store ResultStore, logger zerolog.Logger) *ResultAssembler {
	return &ResultAssembler{
		store:  store,
		logger: logger.With().Str("component", "result_assembler").Logger(),
	}
}

// Assemble never fails. A persistence error turns the record into a failed one.
func (a *ResultAssembler) Assemble(ctx context.Context, state *State) ResultRecord {
	record := Compile(state)
	if a.store == nil {
		return record
	}
	if err := a.store.SaveResult(ctx, state.SubmissionID, record); err != nil {
		err = &ExternalServiceError{Service: "result_store", Op: "save", Err: err}
		a.logger.Error().Err(err).Str("submission_id", state.SubmissionID).Msg("persist grading result")
		return failedRecord(state, err.Error())
	}
	return record
}

// Compile is the pure part of Assemble.
func Compile(state *State) ResultRecord {
	if state.Status != StatusCompleted {
		msg := state.ErrorMessage
		if msg == "" {
			msg = "grading did not complete"
		}
		return failedRecord(state, msg)
	}

	maxScore := state.Config.MaxScore
	percentage := 0.0
	if maxScore > 0 {
		percentage = round2(state.Score / maxScore * 100)
	}

	return ResultRecord{
		SubmissionID:     state.SubmissionID,
		AssignmentID:     state.AssignmentID,
		Status:           StatusCompleted,
		Score:            round2(state.Score),
		MaxScore:         maxScore,
		Percentage:       percentage,
		GradeLevel:       GradeLevel(percentage),
		Confidence:       round2(state.Confidence),
		Errors:           nonNil(state.Errors),
		Feedback:         state.Feedback,
		Suggestions:      nonNil(state.Suggestions),
		KnowledgePoints:  nonNil(state.KnowledgePoints),
		QuestionSegments: nonNil(state.Segments),
		GradingResults:   nonNil(state.Gradings),
		AnnotatedResults: nonNil(state.Annotated),
		Warnings:         nonNil(state.Warnings),
		GradingMode:      state.Mode,
		Complexity:       state.Complexity,
		FromCache:        state.FromCache,
		ProcessingTimeMS: state.Elapsed().Milliseconds(),
		CompletedAt:      state.FinishedAt,
	}
}

func failedRecord(state *State, message string) ResultRecord {
	return ResultRecord{
		SubmissionID:     state.SubmissionID,
		AssignmentID:     state.AssignmentID,
		Status:           StatusFailed,
		MaxScore:         state.Config.MaxScore,
		Errors:           []ErrorItem{},
		Suggestions:      []string{},
		KnowledgePoints:  []KnowledgePoint{},
		QuestionSegments: []QuestionSegment{},
		GradingResults:   []QuestionGrading{},
		AnnotatedResults: []QuestionGrading{},
		Warnings:         []string{},
		GradingMode:      state.Mode,
		Complexity:       state.Complexity,
		ProcessingTimeMS: state.Elapsed().Milliseconds(),
		ErrorMessage:     message,
		CompletedAt:      state.FinishedAt,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
