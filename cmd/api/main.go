package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/blob"
	cloud "github.com/noah-isme/gema-grader/pkg/cloudinary"
	"github.com/noah-isme/gema-grader/pkg/docker"
	"github.com/noah-isme/gema-grader/pkg/extract"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolOptions{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.SubmissionFile{}, &models.GradingResult{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.Workers*2)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable; progress events go to redis only")
		} else {
			defer natsConn.Drain()
		}
	}

	blobs, err := newBlobReader(cfg)
	if err != nil {
		log.Fatalf("failed to configure blob storage: %v", err)
	}

	runner, err := docker.NewDockerRunner(docker.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.SandboxTimeout,
		MemoryLimitMB: int64(cfg.SandboxMemoryMB),
		CPUShares:     int64(cfg.SandboxCPUShares),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to create sandbox runner: %v", err)
	}
	defer runner.Close()

	extractor := extract.New(runner, blobs, extract.Config{
		PDFImage:      cfg.PDFToolImage,
		DocumentImage: cfg.DocToolImage,
		OCRImage:      cfg.OCRToolImage,
		OCRLanguages:  cfg.OCRLanguages,
		ScratchDir:    cfg.SandboxScratch,
		ContainerDir:  runner.WorkingDir(),
		Timeout:       cfg.SandboxTimeout,
	}, logger)

	textModel, err := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Models:      cfg.Models(),
		VisionModel: cfg.OpenAIVision,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to create openai client: %v", err)
	}

	var visionModel grading.VisionModel = textModel
	if cfg.VisionProvider == "gemini" {
		gemini, err := ai.NewGeminiClient(context.Background(), ai.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create gemini client: %v", err)
		}
		defer gemini.Close()
		visionModel = gemini
	}

	var regions grading.RegionStore
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryRegionFolder,
	}
	if cloudCfg.Enabled() {
		uploader, err := cloud.New(cloudCfg, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		regions = service.NewRegionUploader(uploader, logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	fileRepo := repository.NewSubmissionFileRepository(db)
	resultRepo := repository.NewGradingResultRepository(db)

	fileStore := service.NewSubmissionFileStore(fileRepo, blobs)
	cache := grading.NewFingerprintCache(grading.NewRedisCacheBackend(redisClient), cfg.CacheTTL, cfg.CacheEnabled, logger)

	orchestrator := grading.NewOrchestrator(grading.Pipeline{
		Preprocessor: grading.NewPreprocessor(fileStore, extractor, grading.PreprocessorOptions{
			MinTextLength: cfg.MinTextLength,
			MaxTextLength: cfg.MaxTextLength,
		}, logger),
		Assessor:  grading.NewComplexityAssessor(nil, logger),
		Cache:     cache,
		Pages:     grading.NewPageLoader(fileStore, service.NewOCREngine(extractor), logger),
		Segmenter: grading.NewQuestionSegmenter(grading.NewPatternMarkerDetector(), regions, cfg.LabelFormat, logger),
		Grader:    grading.NewUnifiedGrader(textModel, cfg.GraderTimeout, logger),
		Annotator: grading.NewLocationAnnotator(visionModel, cfg.AnnotateTimeout, logger),
		Assembler: grading.NewResultAssembler(service.NewGradingResultStore(resultRepo), logger),
		Progress:  service.NewProgressPublisher(redisClient, cfg.ProgressChannel, natsConn, cfg.ProgressSubject, logger),
	}, grading.OrchestratorOptions{
		Workers:          cfg.Workers,
		CorrectThreshold: cfg.CorrectThreshold,
		WarningThreshold: cfg.WarningThreshold,
		LabelFormat:      cfg.LabelFormat,
	}, logger)

	gradingService := service.NewGradingService(submissionRepo, resultRepo, orchestrator, cache, validate, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	})

	middleware.Register(app, middleware.Config{Logger: logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		HealthProbes: []handler.HealthProbe{
			{Name: "postgres", Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}},
		},
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
		GradeRateLimit: middleware.GradeRateLimit(cfg.GradeRateLimit, time.Minute),
		ExposeMetrics:  true,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Msg("grading api started")
	waitForShutdown(app)
}

func newBlobReader(cfg config.Config) (blob.Reader, error) {
	if cfg.StorageBackend == "minio" {
		return blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return blob.NewFSStore(cfg.StorageRoot), nil
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
