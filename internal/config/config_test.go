package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_OPENAI_API_KEY", "sk-test")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "GEMA Grader", cfg.AppName)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "fs", cfg.StorageBackend)
	require.Equal(t, 45*time.Second, cfg.SandboxTimeout)
	require.Equal(t, 60*time.Second, cfg.GraderTimeout)
	require.Equal(t, 30*time.Second, cfg.AnnotateTimeout)
	require.Equal(t, 168*time.Hour, cfg.CacheTTL)
	require.True(t, cfg.CacheEnabled)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 0.9, cfg.CorrectThreshold)
	require.Equal(t, 0.5, cfg.WarningThreshold)
	require.Equal(t, "openai", cfg.VisionProvider)
	require.Equal(t, "grading:progress", cfg.ProgressChannel)
	require.Equal(t, "*", cfg.CORSAllowOrigins)
	require.Equal(t, 5, cfg.GradeRateLimit)
	require.Equal(t, map[string]string{
		"fast":     "gpt-4o-mini",
		"standard": "gpt-4o-mini",
		"premium":  "gpt-4o",
	}, cfg.Models())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GEMA_APP_PORT", ":9090")
	t.Setenv("GEMA_STORAGE_BACKEND", "MINIO")
	t.Setenv("GEMA_GRADING_CACHE_TTL", "2h")
	t.Setenv("GEMA_GRADING_WORKERS", "0")
	t.Setenv("GEMA_GRADING_CORRECT_THRESHOLD", "0.95")
	t.Setenv("GEMA_AI_MODEL_PREMIUM", "gpt-4.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, "minio", cfg.StorageBackend)
	require.Equal(t, 2*time.Hour, cfg.CacheTTL)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 0.95, cfg.CorrectThreshold)
	require.Equal(t, "gpt-4.1", cfg.Models()["premium"])
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		t.Setenv("GEMA_JWT_SECRET", "")
		t.Setenv("GEMA_OPENAI_API_KEY", "sk-test")
		_, err := Load()
		require.ErrorContains(t, err, "jwt secret")
	})

	t.Run("missing openai key", func(t *testing.T) {
		t.Setenv("GEMA_JWT_SECRET", "secret")
		t.Setenv("GEMA_OPENAI_API_KEY", "")
		_, err := Load()
		require.ErrorContains(t, err, "openai api key")
	})

	t.Run("gemini without key", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("GEMA_AI_VISION_PROVIDER", "Gemini")
		t.Setenv("GEMA_GEMINI_API_KEY", "")
		_, err := Load()
		require.ErrorContains(t, err, "gemini api key")
	})

	t.Run("thresholds out of order", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("GEMA_GRADING_WARNING_THRESHOLD", "0.9")
		_, err := Load()
		require.ErrorContains(t, err, "warning threshold")
	})

	t.Run("bad duration", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("GEMA_AI_GRADER_TIMEOUT", "soon")
		_, err := Load()
		require.ErrorContains(t, err, "ai.grader_timeout")
	})
}
