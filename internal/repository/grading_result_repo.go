package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradingResultRepository persists grading outcomes.
type GradingResultRepository interface {
	// Save upserts the result by submission and mirrors the outcome onto the
	// submission row in one transaction.
	Save(ctx context.Context, result *models.GradingResult, feedback string) error
	GetBySubmission(ctx context.Context, submissionID uint) (models.GradingResult, error)
}

type gradingResultRepository struct {
	db *gorm.DB
}

// NewGradingResultRepository instantiates the repository.
func NewGradingResultRepository(db *gorm.DB) GradingResultRepository {
	return &gradingResultRepository{db: db}
}

func (r *gradingResultRepository) Save(ctx context.Context, result *models.GradingResult, feedback string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "submission_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "score", "max_score", "percentage", "grade_level", "confidence",
				"grading_mode", "from_cache", "processing_time_ms", "error_message",
				"payload", "completed_at", "updated_at",
			}),
		}).Create(result).Error
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": models.SubmissionStatusFailed}
		if result.Status == models.GradingResultCompleted {
			gradedAt := result.CompletedAt
			if gradedAt.IsZero() {
				gradedAt = time.Now().UTC()
			}
			updates = map[string]interface{}{
				"status":    models.SubmissionStatusGraded,
				"grade":     result.Score,
				"feedback":  feedback,
				"graded_at": gradedAt,
			}
		}
		res := tx.Model(&models.Submission{}).Where("id = ?", result.SubmissionID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *gradingResultRepository) GetBySubmission(ctx context.Context, submissionID uint) (models.GradingResult, error) {
	var result models.GradingResult
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&result).Error; err != nil {
		return models.GradingResult{}, err
	}
	return result, nil
}
