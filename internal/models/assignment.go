package models

import "time"

// Assignment carries the grading standard applied to its submissions.
type Assignment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	Subject         string    `gorm:"size:64" json:"subject"`
	MaxScore        float64   `gorm:"not null;default:100" json:"max_score"`
	GradingCriteria string    `gorm:"type:text" json:"grading_criteria"`
	ReferenceAnswer string    `gorm:"type:text" json:"reference_answer"`
	Strictness      string    `gorm:"size:16" json:"strictness"`
	GradingMode     string    `gorm:"size:16" json:"grading_mode"`
	QuestionCount   int       `json:"question_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Submissions     []Submission
}

// EffectiveMaxScore falls back to 100 when the assignment has no positive max score.
func (a Assignment) EffectiveMaxScore() float64 {
	if a.MaxScore <= 0 {
		return 100
	}
	return a.MaxScore
}
