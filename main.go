package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	api "jobtrack-backend/cmd/api"
	appdomain "jobtrack-backend/internal/application/domain"
	appRepo "jobtrack-backend/internal/application/repository"
	appUsecase "jobtrack-backend/internal/application/usecase"
	authDelivery "jobtrack-backend/internal/auth/delivery"
	authUsecase "jobtrack-backend/internal/auth/usecase"
	"jobtrack-backend/internal/changefeed"
	emaildomain "jobtrack-backend/internal/email/domain"
	emailRepo "jobtrack-backend/internal/email/repository"
	emailUsecase "jobtrack-backend/internal/email/usecase"
	intakeUsecase "jobtrack-backend/internal/intake/usecase"
	"jobtrack-backend/internal/pipeline"
	userDelivery "jobtrack-backend/internal/user/delivery"
	userdomain "jobtrack-backend/internal/user/domain"
	userRepo "jobtrack-backend/internal/user/repository"
	"jobtrack-backend/pkg/ai"
	"jobtrack-backend/pkg/cache"
	"jobtrack-backend/pkg/chroma"
	"jobtrack-backend/pkg/config"
	"jobtrack-backend/pkg/database"
	"jobtrack-backend/pkg/fcm"
	"jobtrack-backend/pkg/imageproxy"
	"jobtrack-backend/pkg/logger"
	"jobtrack-backend/pkg/mailer"
	"jobtrack-backend/pkg/mailparser"
	"jobtrack-backend/pkg/objectstorage"
	"jobtrack-backend/pkg/queue"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(&userdomain.User{}, &userdomain.DeviceToken{}, &emaildomain.EmailRecord{}, &appdomain.ApplicationGroup{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Queue and change feed
	if cfg.GoogleProjectID == "" {
		log.Fatal().Msg("GOOGLE_PROJECT_ID is required")
	}
	pubsubClient, err := queue.NewClient(ctx, cfg.GoogleProjectID, cfg.GoogleCredentials)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	bus := queue.New(pubsubClient, cfg.SubscriptionSuffix, cfg.SubscriberMaxInFlight, logger.For(log, "PubSub"))
	defer bus.Close()
	feed := changefeed.New(bus, cfg.EmailChangesTopic, cfg.GroupChangesTopic, logger.For(log, "ChangeFeed"))

	// Repositories
	users := userRepo.NewUserRepository(db)
	deviceTokens := userRepo.NewDeviceTokenRepository(db)
	records := emailRepo.NewEmailRecordRepository(db, feed)
	groups := appRepo.NewGroupRepository(db, feed)

	chromaClient, err := chroma.NewChromaClient(cfg, logger.For(log, "Chroma"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Chroma client")
	}
	searchIndex := emailRepo.NewSearchIndexRepository(chromaClient)

	var userCache cache.Cache
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		userCache = cache.NewRedisCache(redisClient, cfg.ServiceName+":", cfg.CacheTTL)
	} else {
		userCache = cache.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	}

	// Storage and outbound mail
	store, err := objectstorage.NewS3Client(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object storage")
	}
	sesSession, err := objectstorage.NewSession(cfg, cfg.SESRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize SES session")
	}
	forwarder := mailer.NewSESForwarder(sesSession, cfg.ForwarderAddress, logger.For(log, "Forwarder"))

	// AI
	ollamaSettings := ai.NewOllamaSettings(cfg.OllamaBaseURL, cfg.OllamaModel)
	aiCfg := ai.Config{
		Provider:         ai.ProviderType(cfg.AIProvider),
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIModel,
		EmbeddingModel:   cfg.EmbeddingModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiModel:      cfg.GeminiModel,
		Ollama:           ollamaSettings,
		Log:              logger.For(log, "AI"),
	}
	classifier, err := ai.NewClassifier(aiCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize classifier")
	}
	embedder, err := ai.NewEmbedder(aiCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize embedder")
	}
	tokenizer, err := ai.NewTiktokenTokenizer(cfg.TokenizerEncoding)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tokenizer")
	}
	log.Info().Str("provider", cfg.AIProvider).Msg("AI services initialized")

	// Pipeline stages
	parser := mailparser.New()

	intakeLog := logger.For(log, "Intake")
	images := intakeUsecase.NewImageRehoster(store,
		imageproxy.NewClient(cfg.ImageProxyURL, 15*time.Second, intakeLog),
		cfg.PlaceholderImageURL, cfg.ImageConcurrency, intakeLog)
	intake := intakeUsecase.NewIntakeUsecase(store, parser,
		intakeUsecase.NewUserResolver(users, userCache, intakeLog),
		records, forwarder, images, bus,
		intakeUsecase.IntakeConfig{ClassifyTopic: cfg.ClassifyTopic}, intakeLog)

	classify := emailUsecase.NewClassifierUsecase(store, parser, classifier, records, bus, tokenizer,
		emailUsecase.ClassifierConfig{GroupTopic: cfg.GroupTopic, MaxTokens: cfg.ClassifyMaxTokens},
		logger.For(log, "Classifier"))

	groupingOpts := []appUsecase.GroupingOption{}
	if cfg.GroupingStrictOrder {
		groupingOpts = append(groupingOpts, appUsecase.WithValidity(appUsecase.ChronologicalValidity))
	}
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials, logger.For(log, "FCM"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize FCM client, push notifications disabled")
		} else {
			notifier := appUsecase.NewPushStatusNotifier(deviceTokens, fcmClient, logger.For(log, "Notifier"))
			groupingOpts = append(groupingOpts, appUsecase.WithStatusNotifier(notifier))
		}
	}
	grouping := appUsecase.NewGroupingEngine(groups, searchIndex, logger.For(log, "Grouping"), groupingOpts...)

	searchSync := emailUsecase.NewSearchSyncUsecase(searchIndex, store, parser, embedder, tokenizer,
		cfg.EmbeddingMaxTokens, logger.For(log, "SearchSync"))
	reconciler := appUsecase.NewReconciler(records, cfg.ReconcileConcurrency, logger.For(log, "Reconciler"))

	router := queue.NewRouter()
	router.Handle(cfg.InboundTopic, queue.JSONHandler[pipeline.InboundNotification](intakeLog, intake.Handle))
	router.Handle(cfg.ClassifyTopic, queue.JSONHandler[pipeline.ClassificationMessage](log, classify.Handle))
	router.Handle(cfg.GroupTopic, queue.JSONHandler[emaildomain.EmailRecord](log, grouping.Handle))
	router.Handle(cfg.EmailChangesTopic, queue.JSONHandler[emaildomain.EmailChangeEvent](log, searchSync.Handle))
	router.Handle(cfg.GroupChangesTopic, queue.JSONHandler[appdomain.GroupChangeEvent](log, reconciler.Handle))

	// HTTP surface
	var tokens authDelivery.TokenValidator
	if cfg.JWTSecret != "" {
		tokens = authUsecase.NewTokenService(cfg.JWTSecret, users)
	} else {
		log.Warn().Msg("JWT_SECRET not set, device and settings routes disabled")
	}
	if cfg.PushVerificationToken == "" {
		log.Warn().Msg("PUBSUB_PUSH_TOKEN not set, push endpoint disabled")
	}
	handler := api.NewHandler(router, api.Options{
		Tokens:         tokens,
		Devices:        userDelivery.NewDeviceHandler(deviceTokens, logger.For(log, "Devices")),
		Settings:       api.NewSettingsHandler(ollamaSettings, logger.For(log, "Settings")),
		PushToken:      cfg.PushVerificationToken,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger.For(log, "HTTP"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx, router) })
	g.Go(func() error { return handler.Start(gctx, ":"+cfg.Port) })

	log.Info().Strs("topics", router.Topics()).Str("port", cfg.Port).Msg("pipeline started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("pipeline stopped")
	}
	log.Info().Msg("shutdown complete")
}
