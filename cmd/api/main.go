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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-essay-api/internal/config"
	"github.com/noah-isme/gema-essay-api/internal/database"
	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/handler"
	"github.com/noah-isme/gema-essay-api/internal/middleware"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/repository"
	"github.com/noah-isme/gema-essay-api/internal/router"
	"github.com/noah-isme/gema-essay-api/internal/scoring"
	"github.com/noah-isme/gema-essay-api/internal/service"
	"github.com/noah-isme/gema-essay-api/pkg/ai"
	cloud "github.com/noah-isme/gema-essay-api/pkg/cloudinary"
	"github.com/noah-isme/gema-essay-api/pkg/extract"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.EvaluationRun{}, &models.EssayResult{}, &models.CriteriaTemplate{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not set; feedback cache disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	var publisher service.ArchivePublisher
	if cfg.CloudinaryCloudName != "" {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		publisher = uploader
	}

	defaultCriteria, integrityName := loadCriteria(cfg, logger)

	var scorer ai.Scorer
	if cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAIScorer(ai.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.OpenAIMaxTokens,
			Temperature: cfg.OpenAITemperature,
			Timeout:     cfg.OpenAITimeout,
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("failed to create scoring oracle: %v", err)
		}
		scorer = ai.NewResilientScorer(openAI, ai.ResilienceConfig{
			RetryMaxAttempts:    cfg.RetryMaxAttempts,
			RetryInitialBackoff: cfg.RetryInitialBackoff,
			RetryMaxBackoff:     cfg.RetryMaxBackoff,
			BreakerEnabled:      cfg.BreakerEnabled,
			BreakerMinRequests:  cfg.BreakerMinRequests,
			BreakerFailureRatio: cfg.BreakerFailureRatio,
			BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
			RequestsPerMinute:   cfg.OracleRequestsPerMinute,
		}, ai.ClassifyOpenAIError, logger)
	} else {
		logger.Warn().Msg("openai api key not set; essay evaluation disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	runRepo := repository.NewRunRepository(db)
	resultRepo := repository.NewEssayResultRepository(db)
	templateRepo := repository.NewTemplateRepository(db)

	evaluationService := service.NewEvaluationService(
		runRepo, resultRepo, templateRepo,
		extract.New(logger),
		scorer,
		redisClient,
		service.NewNATSPublisher(natsConn),
		validate,
		service.EvaluationConfig{
			IntegrityCriterion: integrityName,
			DefaultCriteria:    defaultCriteria,
			FeedbackCacheTTL:   cfg.FeedbackCacheTTL,
			BatchLockTTL:       cfg.BatchLockTTL,
			EventPrefix:        cfg.EventPrefix,
		},
		logger,
	)
	templateService := service.NewTemplateService(templateRepo, validate, integrityName, logger)
	reportService := service.NewReportService(runRepo, resultRepo, publisher, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.UploadMaxBytes * 10,
		// Batches are scored synchronously.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Minute,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		EvaluationHandler: handler.NewEvaluationHandler(evaluationService, cfg.UploadMaxBytes, logger),
		ReportHandler:     handler.NewReportHandler(reportService, logger),
		TemplateHandler:   handler.NewTemplateHandler(templateService, logger),
		HealthProbes:      healthProbes(db, redisClient),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

// loadCriteria reads the optional criteria file that replaces the stock rubric.
func loadCriteria(cfg config.Config, logger zerolog.Logger) ([]scoring.Criterion, string) {
	integrityName := cfg.IntegrityCriterion
	if cfg.CriteriaFile == "" {
		return scoring.DefaultCriteria(), integrityName
	}

	data, err := os.ReadFile(cfg.CriteriaFile)
	if err != nil {
		log.Fatalf("failed to read criteria file: %v", err)
	}
	doc, err := service.DecodeTemplateYAML(data)
	if err != nil {
		log.Fatalf("failed to parse criteria file: %v", err)
	}
	if doc.IntegrityCriterion != "" {
		integrityName = doc.IntegrityCriterion
	}

	criteria := dto.ToCriteria(doc.Criteria)
	if err := scoring.NewCriteriaSet(criteria, integrityName).Validate(); err != nil {
		log.Fatalf("invalid criteria file: %v", err)
	}
	logger.Info().Str("file", cfg.CriteriaFile).Int("criteria", len(criteria)).Msg("default criteria loaded")
	return criteria, integrityName
}

func healthProbes(db *gorm.DB, redisClient *redis.Client) []handler.Probe {
	probes := []handler.Probe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, handler.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return probes
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
