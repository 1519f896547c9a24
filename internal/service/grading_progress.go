package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/grading"
)

const progressPublishTimeout = 2 * time.Second

type progressEnvelope struct {
	Source string                `json:"source"`
	Event  grading.ProgressEvent `json:"event"`
	SentAt time.Time             `json:"sent_at"`
}

// ProgressPublisher fans grading progress events out over Redis pub/sub and NATS.
type ProgressPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
	now          func() time.Time
}

// NewProgressPublisher constructs a publisher. Either transport may be nil.
func NewProgressPublisher(redisClient *redis.Client, channel string, natsConn *nats.Conn, subject string, logger zerolog.Logger) *ProgressPublisher {
	return &ProgressPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grading_progress").Logger(),
		nodeID:       uuid.NewString(),
		now:          time.Now,
	}
}

// Report publishes the event. Failures are logged and never returned.
func (p *ProgressPublisher) Report(ctx context.Context, event grading.ProgressEvent) {
	payload, err := json.Marshal(progressEnvelope{
		Source: p.nodeID,
		Event:  event,
		SentAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode progress event")
		return
	}

	if p.redis != nil && p.redisChannel != "" {
		pubCtx, cancel := context.WithTimeout(ctx, progressPublishTimeout)
		err := p.redis.Publish(pubCtx, p.redisChannel, payload).Err()
		cancel()
		if err != nil {
			p.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish progress to redis")
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject+"."+event.SubmissionID, payload); err != nil {
			p.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish progress to nats")
		}
	}

	p.logger.Debug().
		Str("submission_id", event.SubmissionID).
		Str("stage", event.Stage).
		Int("percent", event.Percent).
		Msg("grading progress")
}
