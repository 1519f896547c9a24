package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	CORSAllowOrigins string
	GradeRateLimit   int

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryRegionFolder string

	StorageBackend string
	StorageRoot    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	DockerHost       string
	SandboxTimeout   time.Duration
	SandboxMemoryMB  int
	SandboxCPUShares int
	SandboxScratch   string
	PDFToolImage     string
	DocToolImage     string
	OCRToolImage     string
	OCRLanguages     string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ModelFast       string
	ModelStandard   string
	ModelPremium    string
	VisionProvider  string
	OpenAIVision    string
	GeminiAPIKey    string
	GeminiModel     string
	GraderTimeout   time.Duration
	AnnotateTimeout time.Duration

	CacheEnabled     bool
	CacheTTL         time.Duration
	Workers          int
	CorrectThreshold float64
	WarningThreshold float64
	MinTextLength    int
	MaxTextLength    int
	LabelFormat      string

	ProgressChannel string
	ProgressSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Models maps grading modes to model names.
func (c Config) Models() map[string]string {
	return map[string]string{
		"fast":     c.ModelFast,
		"standard": c.ModelStandard,
		"premium":  c.ModelPremium,
	}
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	durations := map[string]time.Duration{}
	for _, key := range []string{"sandbox.timeout", "ai.grader_timeout", "ai.annotate_timeout", "grading.cache_ttl"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		LogLevel:    v.GetString("log.level"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		CORSAllowOrigins: v.GetString("cors.allow_origins"),
		GradeRateLimit:   v.GetInt("grading.rate_limit"),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryRegionFolder: v.GetString("cloudinary.folder"),

		StorageBackend: strings.ToLower(v.GetString("storage.backend")),
		StorageRoot:    v.GetString("storage.root"),
		MinioEndpoint:  v.GetString("minio.endpoint"),
		MinioAccessKey: v.GetString("minio.access_key"),
		MinioSecretKey: v.GetString("minio.secret_key"),
		MinioBucket:    v.GetString("minio.bucket"),
		MinioUseSSL:    v.GetBool("minio.use_ssl"),

		DockerHost:       v.GetString("docker_host"),
		SandboxTimeout:   durations["sandbox.timeout"],
		SandboxMemoryMB:  v.GetInt("sandbox.memory_mb"),
		SandboxCPUShares: v.GetInt("sandbox.cpu_shares"),
		SandboxScratch:   v.GetString("sandbox.scratch_dir"),
		PDFToolImage:     v.GetString("sandbox.pdf_image"),
		DocToolImage:     v.GetString("sandbox.doc_image"),
		OCRToolImage:     v.GetString("sandbox.ocr_image"),
		OCRLanguages:     v.GetString("sandbox.ocr_languages"),

		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIBaseURL:   v.GetString("openai_base_url"),
		ModelFast:       v.GetString("ai.model_fast"),
		ModelStandard:   v.GetString("ai.model_standard"),
		ModelPremium:    v.GetString("ai.model_premium"),
		VisionProvider:  strings.ToLower(v.GetString("ai.vision_provider")),
		OpenAIVision:    v.GetString("ai.openai_vision_model"),
		GeminiAPIKey:    v.GetString("gemini_api_key"),
		GeminiModel:     v.GetString("ai.gemini_model"),
		GraderTimeout:   durations["ai.grader_timeout"],
		AnnotateTimeout: durations["ai.annotate_timeout"],

		CacheEnabled:     v.GetBool("grading.cache_enabled"),
		CacheTTL:         durations["grading.cache_ttl"],
		Workers:          v.GetInt("grading.workers"),
		CorrectThreshold: v.GetFloat64("grading.correct_threshold"),
		WarningThreshold: v.GetFloat64("grading.warning_threshold"),
		MinTextLength:    v.GetInt("grading.min_text_length"),
		MaxTextLength:    v.GetInt("grading.max_text_length"),
		LabelFormat:      v.GetString("grading.label_format"),

		ProgressChannel: v.GetString("progress.channel"),
		ProgressSubject: v.GetString("progress.subject"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("openai api key must be provided")
	}
	if cfg.VisionProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("gemini api key must be provided when the gemini vision provider is selected")
	}
	if cfg.WarningThreshold >= cfg.CorrectThreshold {
		return Config{}, fmt.Errorf("warning threshold must be below the correct threshold")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("cors.allow_origins", "*")

	v.SetDefault("cloudinary.folder", "gema/grading/regions")
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.root", "./uploads")

	v.SetDefault("sandbox.timeout", "45s")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("sandbox.pdf_image", "minidocks/poppler:latest")
	v.SetDefault("sandbox.doc_image", "pandoc/core:latest")
	v.SetDefault("sandbox.ocr_image", "jitesoft/tesseract-ocr:latest")
	v.SetDefault("sandbox.ocr_languages", "chi_sim+eng")

	v.SetDefault("ai.model_fast", "gpt-4o-mini")
	v.SetDefault("ai.model_standard", "gpt-4o-mini")
	v.SetDefault("ai.model_premium", "gpt-4o")
	v.SetDefault("ai.vision_provider", "openai")
	v.SetDefault("ai.openai_vision_model", "gpt-4o")
	v.SetDefault("ai.gemini_model", "gemini-1.5-flash")
	v.SetDefault("ai.grader_timeout", "60s")
	v.SetDefault("ai.annotate_timeout", "30s")

	v.SetDefault("grading.cache_enabled", true)
	v.SetDefault("grading.cache_ttl", "168h")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.rate_limit", 5)
	v.SetDefault("grading.correct_threshold", 0.9)
	v.SetDefault("grading.warning_threshold", 0.5)
	v.SetDefault("grading.min_text_length", 10)
	v.SetDefault("grading.max_text_length", 50000)
	v.SetDefault("grading.label_format", "Question %d")

	v.SetDefault("progress.channel", "grading:progress")
	v.SetDefault("progress.subject", "grading.progress")
}
