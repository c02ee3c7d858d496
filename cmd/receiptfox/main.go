package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/ManuelReschke/ReceiptFox/app/controllers"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/archive"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/cache"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/claim"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/database"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/enrichment"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/env"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/identity"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/ledger"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/receipts"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/router"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/webhook"
)

func main() {
	ctx := context.Background()
	app, cleanup, err := NewApplication(ctx)
	if err != nil {
		log.Fatalf("[Bootstrap] %v", err)
	}
	defer cleanup()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("[Bootstrap] Shutting down")
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Errorf("[Bootstrap] Shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Errorf("[Bootstrap] Server stopped: %v", err)
	}
}

// NewApplication wires all services. cleanup releases clients that hold
// connections.
func NewApplication(ctx context.Context) (*fiber.App, func(), error) {
	env.SetupEnvFile()

	basePath := findBasePath()
	if basePath == "" {
		return nil, nil, errors.New("could not find project root directory")
	}

	db, err := database.SetupDatabase()
	if err != nil {
		return nil, nil, err
	}
	repos := repository.NewFactory(db).GetRepositories()
	cacheClient := cache.SetupCache(ctx)

	urls, err := receipts.NewPublicURLBuilder(env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000"))
	if err != nil {
		return nil, nil, fmt.Errorf("PUBLIC_BASE_URL: %w", err)
	}
	claimSecret := env.GetEnv("CLAIM_CODE_SECRET", "")
	if claimSecret == "" {
		if !env.IsDev() {
			return nil, nil, errors.New("CLAIM_CODE_SECRET is required")
		}
		claimSecret = "dev-claim-secret"
		log.Warn("[Bootstrap] CLAIM_CODE_SECRET not set, using the development secret")
	}
	codec := receipts.NewClaimCodec(claimSecret, urls)

	enricher, closeEnricher := newEnricher(ctx, repos)
	cleanup := func() {
		closeEnricher()
		if err := cacheClient.Close(); err != nil {
			log.Warnf("[Bootstrap] Closing cache client: %v", err)
		}
	}

	deliveryLedger := ledger.New(repos.DeliveryLog)
	outcomes := counter.NewDeliveryCounter(cacheClient, env.GetEnvDuration("OUTCOME_COUNTER_RETENTION", 30*24*time.Hour))
	materializer := receipts.NewMaterializer(repos.Receipt, repos.Expense, urls)
	processor := webhook.NewProcessor(
		deliveryLedger,
		identity.NewMatcher(repos.User, repos.PaymentFingerprint),
		materializer,
		enricher,
		codec,
	).
		WithMerchantDirectory(cache.NewMerchantNames(cacheClient, repos.Merchant, env.GetEnvDuration("MERCHANT_NAME_CACHE_TTL", time.Hour))).
		WithOutcomeRecorder(outcomes)

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if archiveCfg.Enabled {
		store, err := archive.NewS3Archive(ctx, archiveCfg)
		if err != nil {
			log.Warnf("[Bootstrap] Payload archive disabled: %v", err)
		} else {
			processor.WithArchiver(store)
		}
	}

	app := fiber.New(fiber.Config{
		Views:     html.New(basePath+"views", ".html"),
		BodyLimit: 4 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())

	// static files
	app.Static("/", basePath+"public/assets", fiber.Static{
		CacheDuration: 15 * time.Second,
		Compress:      true,
	})

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	router.InstallRouter(app, router.Dependencies{
		Repositories:     repos,
		Webhooks:         controllers.NewWebhookController(processor, env.GetEnvDuration("WEBHOOK_TIMEOUT", 15*time.Second)),
		Claims:           controllers.NewClaimController(claim.NewHandler(codec, materializer, enricher)),
		Receipts:         controllers.NewReceiptController(materializer, codec),
		Deliveries:       controllers.NewDeliveryController(deliveryLedger, processor, env.GetEnvDuration("LEDGER_STALE_AFTER", 30*time.Minute)).WithCounter(outcomes),
		LimiterStorage:   cache.NewLimiterStorage(cacheClient),
		WebhookRateLimit: env.GetEnvInt("WEBHOOK_RATE_LIMIT", 120),
		WebhookRateSpan:  env.GetEnvDuration("WEBHOOK_RATE_WINDOW", time.Minute),
	})

	return app, cleanup, nil
}

// newEnricher picks the Gemini categorizer when a key is configured and the
// keyword rules otherwise.
func newEnricher(ctx context.Context, repos *repository.Repositories) (*enrichment.Enricher, func()) {
	enricher := enrichment.NewEnricher(repos.Category)
	closeFn := func() {}

	if apiKey := env.GetEnv("GEMINI_API_KEY", ""); apiKey != "" {
		gemini, err := enrichment.NewGeminiCategorizer(ctx, apiKey, env.GetEnv("GEMINI_MODEL", ""))
		if err != nil {
			log.Warnf("[Bootstrap] Gemini categorizer unavailable, using keyword rules: %v", err)
			enricher.WithCategorizer(enrichment.NewKeywordCategorizer())
		} else {
			enricher.WithCategorizer(gemini)
			closeFn = func() {
				if err := gemini.Close(); err != nil {
					log.Warnf("[Bootstrap] Closing Gemini client: %v", err)
				}
			}
		}
	} else {
		enricher.WithCategorizer(enrichment.NewKeywordCategorizer())
	}

	if loyalty := enrichment.NewHTTPLoyaltyClient(
		env.GetEnv("LOYALTY_API_URL", ""),
		env.GetEnv("LOYALTY_API_KEY", ""),
		env.GetEnvDuration("LOYALTY_TIMEOUT", 5*time.Second),
	); loyalty != nil {
		enricher.WithLoyalty(loyalty)
	}
	return enricher, closeFn
}

func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/receiptfox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "views"); !os.IsNotExist(err) {
			return path
		}
	}
	return ""
}
