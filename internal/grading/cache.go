package grading

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/observability"
)

const (
	cacheKeyPrefix  = "grading_cache:"
	DefaultCacheTTL = 7 * 24 * time.Hour
)

// ErrCacheMiss is returned by a CacheBackend when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheBackend is the key/value store behind the fingerprint cache.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
}

// RedisCacheBackend adapts a go-redis client to CacheBackend.
type RedisCacheBackend struct {
	client *redis.Client
}

// NewRedisCacheBackend wraps client.
func NewRedisCacheBackend(client *redis.Client) *RedisCacheBackend {
	return &RedisCacheBackend{client: client}
}

func (b *RedisCacheBackend) Get(ctx context.Context, key string) (string, error) {
	value, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

func (b *RedisCacheBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisCacheBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *RedisCacheBackend) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return b.client.Del(ctx, keys...).Result()
}

// NormalizeText collapses every whitespace run into a single space.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint is the content digest of the normalized text.
func Fingerprint(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(NormalizeText(text)), 16)
}

// CachedResult is what the cache keeps for a graded submission.
type CachedResult struct {
	Score           float64           `json:"score"`
	MaxScore        float64           `json:"max_score"`
	Confidence      float64           `json:"confidence"`
	Errors          []ErrorItem       `json:"errors"`
	Feedback        string            `json:"feedback_text"`
	Suggestions     []string          `json:"suggestions"`
	KnowledgePoints []KnowledgePoint  `json:"knowledge_points"`
	Mode            Mode              `json:"grading_mode"`
	Segments        []QuestionSegment `json:"question_segments,omitempty"`
	Gradings        []QuestionGrading `json:"grading_results,omitempty"`
	Annotated       []QuestionGrading `json:"annotated_results,omitempty"`
	CachedAt        time.Time         `json:"cached_at"`
	FromCache       bool              `json:"-"`
}

// CacheStats describes the cache for operators.
type CacheStats struct {
	Enabled bool          `json:"enabled"`
	Entries int           `json:"entries"`
	TTL     time.Duration `json:"ttl"`
}

// FingerprintCache maps normalized submission text to a previous result.
type FingerprintCache struct {
	backend CacheBackend
	ttl     time.Duration
	enabled bool
	logger  zerolog.Logger
	now     func() time.Time
}

// NewFingerprintCache builds a cache. A nil backend disables it.
func NewFingerprintCache(backend CacheBackend, ttl time.Duration, enabled bool, logger zerolog.Logger) *FingerprintCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &FingerprintCache{
		backend: backend,
		ttl:     ttl,
		enabled: enabled && backend != nil,
		logger:  logger.With().Str("component", "fingerprint_cache").Logger(),
		now:     time.Now,
	}
}

// Enabled reports whether lookups and stores reach the backend.
func (c *FingerprintCache) Enabled() bool {
	return c != nil && c.enabled
}

// Lookup returns the cached result for text. Misses and backend failures both
// report ok=false.
func (c *FingerprintCache) Lookup(ctx context.Context, text string) (CachedResult, bool) {
	if !c.Enabled() {
		return CachedResult{}, false
	}

	key := cacheKeyPrefix + Fingerprint(text)
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			observability.GradingCacheLookups().WithLabelValues("miss").Inc()
		} else {
			observability.GradingCacheLookups().WithLabelValues("error").Inc()
			c.logger.Warn().Err(&ExternalServiceError{Service: "cache", Op: "get", Err: err}).Str("key", key).Msg("cache lookup failed")
		}
		return CachedResult{}, false
	}

	var cached CachedResult
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		observability.GradingCacheLookups().WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return CachedResult{}, false
	}

	observability.GradingCacheLookups().WithLabelValues("hit").Inc()
	c.logger.Debug().Str("key", key).Msg("grading cache hit")
	cached.FromCache = true
	return cached, true
}

// Store writes the aggregate of a completed state. Failures are logged only.
func (c *FingerprintCache) Store(ctx context.Context, state *State) {
	if !c.Enabled() || state == nil {
		return
	}

	entry := CachedResult{
		Score:           state.Score,
		MaxScore:        state.Config.MaxScore,
		Confidence:      state.Confidence,
		Errors:          state.Errors,
		Feedback:        state.Feedback,
		Suggestions:     state.Suggestions,
		KnowledgePoints: state.KnowledgePoints,
		Mode:            state.Mode,
		Segments:        state.Segments,
		Gradings:        state.Gradings,
		Annotated:       state.Annotated,
		CachedAt:        c.now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("submission_id", state.SubmissionID).Msg("encode cache entry")
		return
	}

	key := cacheKeyPrefix + Fingerprint(state.ExtractedText)
	if err := c.backend.Set(ctx, key, string(payload), c.ttl); err != nil {
		c.logger.Warn().Err(&ExternalServiceError{Service: "cache", Op: "set", Err: err}).Str("key", key).Msg("cache store failed")
		return
	}
	c.logger.Debug().Str("key", key).Str("submission_id", state.SubmissionID).Msg("grading result cached")
}

// Stats counts the cached entries.
func (c *FingerprintCache) Stats(ctx context.Context) (CacheStats, error) {
	if !c.Enabled() {
		stats := CacheStats{}
		if c != nil {
			stats.TTL = c.ttl
		}
		return stats, nil
	}
	stats := CacheStats{Enabled: true, TTL: c.ttl}
	keys, err := c.backend.Keys(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return stats, &ExternalServiceError{Service: "cache", Op: "keys", Err: err}
	}
	stats.Entries = len(keys)
	return stats, nil
}

// Clear deletes entries whose fingerprint matches pattern ("*" when empty).
func (c *FingerprintCache) Clear(ctx context.Context, pattern string) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = "*"
	}
	keys, err := c.backend.Keys(ctx, cacheKeyPrefix+pattern)
	if err != nil {
		return 0, &ExternalServiceError{Service: "cache", Op: "keys", Err: err}
	}
	deleted, err := c.backend.Delete(ctx, keys...)
	if err != nil {
		return 0, &ExternalServiceError{Service: "cache", Op: "delete", Err: err}
	}
	c.logger.Info().Int64("deleted", deleted).Str("pattern", pattern).Msg("grading cache cleared")
	return deleted, nil
}
