package repository

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).Preload("Assignment").First(&submission, id).Error
	if err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SubmissionFileRepository lists the stored files of a submission.
type SubmissionFileRepository interface {
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.SubmissionFile, error)
}

type submissionFileRepository struct {
	db *gorm.DB
}

// NewSubmissionFileRepository instantiates the repository.
func NewSubmissionFileRepository(db *gorm.DB) SubmissionFileRepository {
	return &submissionFileRepository{db: db}
}

func (r *submissionFileRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.SubmissionFile, error) {
	var files []models.SubmissionFile
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("position ASC, id ASC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ParseID converts a string identifier used by the grading pipeline to a primary key.
func ParseID(id string) (uint, error) {
	parsed, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}
