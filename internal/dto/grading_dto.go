package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/grading"
)

// GradeSubmissionRequest overrides the assignment's grading standard for one run.
type GradeSubmissionRequest struct {
	Mode            string   `json:"mode" validate:"omitempty,oneof=fast standard premium"`
	Strictness      string   `json:"strictness" validate:"omitempty,oneof=loose standard strict"`
	MaxScore        *float64 `json:"max_score" validate:"omitempty,gt=0,lte=1000"`
	Criteria        string   `json:"criteria" validate:"omitempty,max=10000"`
	ReferenceAnswer string   `json:"reference_answer" validate:"omitempty,max=20000"`
	Subject         string   `json:"subject" validate:"omitempty,max=64"`
}

// GradingCacheStatsResponse describes the fingerprint cache.
type GradingCacheStatsResponse struct {
	Enabled    bool   `json:"enabled"`
	Entries    int    `json:"entries"`
	TTLSeconds int64  `json:"ttl_seconds"`
	TTL        string `json:"ttl"`
}

// NewGradingCacheStatsResponse converts cache stats.
func NewGradingCacheStatsResponse(stats grading.CacheStats) GradingCacheStatsResponse {
	return GradingCacheStatsResponse{
		Enabled:    stats.Enabled,
		Entries:    stats.Entries,
		TTLSeconds: int64(stats.TTL / time.Second),
		TTL:        stats.TTL.String(),
	}
}

// GradingCacheClearResponse reports how many entries were removed.
type GradingCacheClearResponse struct {
	Deleted int64  `json:"deleted"`
	Pattern string `json:"pattern"`
}
