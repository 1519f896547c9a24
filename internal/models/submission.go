package models

import "time"

// Submission is a student's answer to an assignment, stored as one or more files.
type Submission struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	AssignmentID uint             `gorm:"not null;index" json:"assignment_id"`
	StudentID    uint             `gorm:"not null;index" json:"student_id"`
	Status       string           `gorm:"size:32;not null" json:"status"`
	Grade        *float64         `json:"grade"`
	Feedback     string           `gorm:"type:text" json:"feedback"`
	GradedAt     *time.Time       `json:"graded_at"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Assignment   Assignment       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
	Files        []SubmissionFile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files"`
}

const (
	// SubmissionStatusSubmitted indicates the submission has been uploaded but not graded.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusGrading indicates a grading run is in flight.
	SubmissionStatusGrading = "grading"
	// SubmissionStatusGraded indicates the submission has been evaluated.
	SubmissionStatusGraded = "graded"
	// SubmissionStatusFailed indicates the last grading run failed.
	SubmissionStatusFailed = "failed"
)

// IsGraded reports whether the submission has a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// SubmissionFile points at one uploaded file in blob storage.
type SubmissionFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	StorageKey   string    `gorm:"size:512;not null" json:"storage_key"`
	ContentType  string    `gorm:"size:128" json:"content_type"`
	Size         int64     `json:"size"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
}
