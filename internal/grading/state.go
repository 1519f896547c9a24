package grading

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle position of a grading run.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPreprocessing Status = "preprocessing"
	StatusPreprocessed  Status = "preprocessed"
	StatusGrading       Status = "grading"
	StatusAnnotating    Status = "annotating"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:       0,
	StatusPreprocessing: 1,
	StatusPreprocessed:  2,
	StatusGrading:       3,
	StatusAnnotating:    4,
	StatusCompleted:     5,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Mode selects the cost/quality tradeoff of the grading model call.
type Mode string

const (
	ModeAuto     Mode = ""
	ModeFast     Mode = "fast"
	ModeStandard Mode = "standard"
	ModePremium  Mode = "premium"
)

// Valid reports whether m names a concrete grading mode.
func (m Mode) Valid() bool {
	return m == ModeFast || m == ModeStandard || m == ModePremium
}

// Strictness controls how harshly the grader treats small mistakes.
type Strictness string

const (
	StrictnessLoose    Strictness = "loose"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// Standard is the free-text grading rubric with an optional reference answer.
type Standard struct {
	Criteria        string `json:"criteria"`
	ReferenceAnswer string `json:"reference_answer,omitempty"`
}

// Config carries the per-run grading settings.
type Config struct {
	Mode          Mode       `json:"mode"`
	MaxScore      float64    `json:"max_score"`
	Standard      Standard   `json:"standard"`
	Strictness    Strictness `json:"strictness"`
	Subject       string     `json:"subject,omitempty"`
	QuestionCount int        `json:"question_count,omitempty"`
}

// FileType is the coarse classification used to pick an extraction path.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypePDF      FileType = "pdf"
	FileTypeDocument FileType = "document"
	FileTypeText     FileType = "text"
	FileTypeUnknown  FileType = "unknown"
)

// ProcessedFile is one submission file after classification and extraction.
type ProcessedFile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Type     FileType `json:"type"`
	Text     string   `json:"text"`
	NeedsOCR bool     `json:"needs_ocr"`
	Error    string   `json:"error,omitempty"`
}

// FileMetadata aggregates facts about the processed files.
type FileMetadata struct {
	FileCount   int  `json:"file_count"`
	TotalLength int  `json:"total_length"`
	HasImages   bool `json:"has_images"`
	NeedsOCR    bool `json:"needs_ocr"`
	Oversized   bool `json:"oversized"`
}

// BoundingBox is an axis-aligned rectangle in absolute pixels of one image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// QuestionSegment is one detected question region on a page.
type QuestionSegment struct {
	Label       string      `json:"label"`
	Index       int         `json:"index"`
	PageIndex   int         `json:"page_index"`
	BBox        BoundingBox `json:"bbox"`
	RegionImage string      `json:"region_image,omitempty"`
	OCRText     string      `json:"ocr_text"`
	Confidence  float64     `json:"confidence"`
}

// LocatorKind describes the shape of an error annotation.
type LocatorKind string

const (
	LocatorPoint LocatorKind = "point"
	LocatorLine  LocatorKind = "line"
	LocatorArea  LocatorKind = "area"
)

// ErrorLocation pins one grading error to a region of the page image.
type ErrorLocation struct {
	BBox       BoundingBox `json:"bbox"`
	Kind       LocatorKind `json:"type"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
	Fallback   bool        `json:"fallback"`
}

// ErrorItem is one mistake reported by the grader.
type ErrorItem struct {
	Type          string         `json:"type"`
	Location      string         `json:"location,omitempty"`
	Description   string         `json:"description"`
	CorrectAnswer string         `json:"correct_answer,omitempty"`
	Severity      string         `json:"severity"`
	Deduction     float64        `json:"deduction"`
	RelatedText   string         `json:"related_text,omitempty"`
	Region        *ErrorLocation `json:"region,omitempty"`
}

// KnowledgePoint is a skill the grader assessed with a mastery estimate.
type KnowledgePoint struct {
	Name         string `json:"name"`
	MasteryLevel int    `json:"mastery_level"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// QuestionStatus buckets a question's score ratio.
type QuestionStatus string

const (
	QuestionCorrect QuestionStatus = "correct"
	QuestionWarning QuestionStatus = "warning"
	QuestionError   QuestionStatus = "error"
)

// QuestionGrading is the graded outcome of one question.
type QuestionGrading struct {
	QuestionIndex   int              `json:"question_index"`
	Label           string           `json:"label"`
	PageIndex       int              `json:"page_index"`
	BBox            *BoundingBox     `json:"bbox,omitempty"`
	Score           float64          `json:"score"`
	MaxScore        float64          `json:"max_score"`
	Confidence      float64          `json:"confidence"`
	Status          QuestionStatus   `json:"status"`
	Errors          []ErrorItem      `json:"errors"`
	CorrectParts    []string         `json:"correct_parts"`
	Warnings        []string         `json:"warnings"`
	Feedback        string           `json:"feedback"`
	Suggestions     []string         `json:"suggestions"`
	KnowledgePoints []KnowledgePoint `json:"knowledge_points"`
	Failed          bool             `json:"failed"`
	FailureReason   string           `json:"failure_reason,omitempty"`
}

// Event is one entry of the run's append-only log.
type Event struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// ErrInvalidTransition is returned when a status change would move backwards
// or leave a terminal status.
var ErrInvalidTransition = errors.New("invalid grading status transition")

// State is the record threaded through the pipeline for one submission.
type State struct {
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	UserID       string `json:"user_id,omitempty"`

	Config     Config `json:"config"`
	Mode       Mode   `json:"mode"`
	Complexity Tier   `json:"complexity,omitempty"`

	Files         []ProcessedFile `json:"files"`
	ExtractedText string          `json:"extracted_text"`
	Metadata      FileMetadata    `json:"metadata"`

	Segments  []QuestionSegment `json:"segments,omitempty"`
	Gradings  []QuestionGrading `json:"gradings,omitempty"`
	Annotated []QuestionGrading `json:"annotated,omitempty"`

	Score           float64          `json:"score"`
	Confidence      float64          `json:"confidence"`
	Feedback        string           `json:"feedback"`
	Suggestions     []string         `json:"suggestions"`
	KnowledgePoints []KnowledgePoint `json:"knowledge_points"`
	Errors          []ErrorItem      `json:"errors"`
	Strengths       []string         `json:"strengths,omitempty"`
	Weaknesses      []string         `json:"weaknesses,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`

	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FromCache    bool      `json:"from_cache"`
	Events       []Event   `json:"events"`

	now func() time.Time
}

// NewState creates a pending state for one run.
func NewState(submissionID, assignmentID, userID string, cfg Config) *State {
	s := &State{
		SubmissionID: submissionID,
		AssignmentID: assignmentID,
		UserID:       userID,
		Config:       cfg,
		Mode:         cfg.Mode,
		Status:       StatusPending,
		now:          time.Now,
	}
	s.StartedAt = s.clock()
	return s
}

func (s *State) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// Advance moves the state forward. Statuses may be skipped but never revisited.
func (s *State) Advance(next Status) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s.Status)
	}
	if next == StatusFailed {
		return fmt.Errorf("%w: use Fail to mark a run failed", ErrInvalidTransition)
	}
	to, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if to <= statusRank[s.Status] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}

	s.Status = next
	s.Record(string(next), "")
	if next == StatusCompleted {
		s.FinishedAt = s.clock()
	}
	return nil
}

// Fail moves a non-terminal state into the absorbing failed status.
func (s *State) Fail(message string) {
	if s.Status.Terminal() {
		return
	}
	s.Status = StatusFailed
	s.ErrorMessage = message
	s.FinishedAt = s.clock()
	s.Record(string(StatusFailed), message)
}

// Record appends to the event log.
func (s *State) Record(stage, message string) {
	if s.Status.Terminal() && stage != string(s.Status) {
		return
	}
	s.Events = append(s.Events, Event{At: s.clock(), Stage: stage, Message: message})
}

// Warn records a non-fatal anomaly that should surface on the result.
func (s *State) Warn(message string) {
	if s.Status.Terminal() {
		return
	}
	s.Warnings = append(s.Warnings, message)
	s.Record("warning", message)
}

// Elapsed is the wall time between start and finish, or until now while running.
func (s *State) Elapsed() time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = s.clock()
	}
	return end.Sub(s.StartedAt)
}

// forQuestion derives the per-question view handed to the grader.
func (s *State) forQuestion(text string, maxScore float64) *State {
	cfg := s.Config
	cfg.MaxScore = maxScore
	q := &State{
		SubmissionID:  s.SubmissionID,
		AssignmentID:  s.AssignmentID,
		UserID:        s.UserID,
		Config:        cfg,
		Mode:          s.Mode,
		Complexity:    s.Complexity,
		ExtractedText: text,
		Status:        StatusGrading,
		now:           s.now,
	}
	q.StartedAt = q.clock()
	return q
}
