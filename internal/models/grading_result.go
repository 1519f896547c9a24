package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradingResult stores the latest grading outcome of a submission. Payload
// holds the full result record as JSON.
type GradingResult struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	SubmissionID     uint           `gorm:"not null;uniqueIndex" json:"submission_id"`
	Status           string         `gorm:"size:32;not null" json:"status"`
	Score            float64        `json:"score"`
	MaxScore         float64        `json:"max_score"`
	Percentage       float64        `json:"percentage"`
	GradeLevel       string         `gorm:"size:2" json:"grade_level"`
	Confidence       float64        `json:"confidence"`
	GradingMode      string         `gorm:"size:16" json:"grading_mode"`
	FromCache        bool           `json:"from_cache"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	Payload          datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	CompletedAt      time.Time      `json:"completed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

const (
	// GradingResultCompleted marks a run that produced a score.
	GradingResultCompleted = "completed"
	// GradingResultFailed marks a run that ended without a score.
	GradingResultFailed = "failed"
)
