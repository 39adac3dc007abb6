package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rpg-novel-server/internal/ai"
	"rpg-novel-server/internal/auth"
	"rpg-novel-server/internal/config"
	"rpg-novel-server/internal/database"
	"rpg-novel-server/internal/docstore"
	"rpg-novel-server/internal/generator"
	"rpg-novel-server/internal/handler"
	"rpg-novel-server/internal/interfaces"
	"rpg-novel-server/internal/lock"
	"rpg-novel-server/internal/logger"
	"rpg-novel-server/internal/memstore"
	"rpg-novel-server/internal/messaging"
	"rpg-novel-server/internal/middleware"
	"rpg-novel-server/internal/normalizer"
	"rpg-novel-server/internal/payment"
	"rpg-novel-server/internal/service"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск RPG Novel Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized",
		zap.String("logLevel", cfg.LogLevel),
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.StorageDriver),
		zap.String("authMode", cfg.AuthMode),
	)

	ctx := context.Background()

	// Firebase нужен для проверки ID-токенов и для Firestore
	var fbApp *firebase.App
	if cfg.AuthMode == config.AuthModeFirebase || cfg.StorageDriver == config.StorageFirestore {
		fbApp, err = auth.NewFirebaseApp(ctx, auth.FirebaseConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось инициализировать Firebase", zap.Error(err))
		}
	}

	verifier, err := setupVerifier(ctx, cfg, fbApp, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать верификатор токенов", zap.Error(err))
	}

	storyRepo, coinRepo, closeStore, err := setupStorage(ctx, cfg, fbApp, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось инициализировать хранилище", zap.Error(err))
	}
	defer closeStore()

	publisher, closePublisher := setupPublisher(cfg, zapLogger)
	defer closePublisher()

	locker, closeLocker := setupLocker(ctx, cfg, zapLogger)
	defer closeLocker()

	aiClient, err := ai.NewClient(ai.Config{
		ClientType:            cfg.AIClientType,
		BaseURL:               cfg.AIBaseURL,
		APIKey:                cfg.AIAPIKey,
		Model:                 cfg.AIModel,
		Timeout:               cfg.AITimeout,
		SiteURL:               cfg.AISiteURL,
		SiteName:              cfg.AISiteName,
		InputPricePerMillion:  cfg.AIInputPrice,
		OutputPricePerMillion: cfg.AIOutputPrice,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать AI клиент", zap.Error(err))
	}

	norm := normalizer.New(
		normalizer.WithMaxHealth(cfg.MaxHealth),
		normalizer.WithFallbackObserver(normalizer.NewMetricsObserver(zapLogger)),
	)
	stepGenerator := generator.New(aiClient, norm, generator.Config{
		Temperature:   cfg.AITemperature,
		MaxTokens:     cfg.AIMaxTokens,
		DefaultHealth: cfg.MaxHealth,
	}, zapLogger)

	coinService := service.NewCoinService(coinRepo, publisher, service.CoinConfig{
		InitialBonus:      cfg.InitialBonus,
		StoryCreationCost: cfg.StoryCreationCost,
		ContinuationCost:  cfg.ContinuationCost,
	}, zapLogger)
	storyService := service.NewStoryService(storyRepo, coinService, stepGenerator, publisher, zapLogger)

	var gateway payment.Gateway
	if cfg.PaymentsEnabled() {
		gateway, err = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			SuccessURL:     cfg.StripeSuccessURL,
			CancelURL:      cfg.StripeCancelURL,
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось создать Stripe gateway", zap.Error(err))
		}
	} else {
		zapLogger.Warn("STRIPE_SECRET_KEY не задан, покупки отключены")
	}
	paymentService := service.NewPaymentService(gateway, coinService, publisher, zapLogger)
	pix := payment.NewPix(payment.PixConfig{Key: cfg.PixKey, Merchant: cfg.PixMerchant, City: cfg.PixCity})

	httpHandler := handler.NewHandler(
		storyService,
		coinService,
		paymentService,
		pix,
		locker,
		verifier,
		handler.Config{HistoryWindow: cfg.HistoryWindow},
		zapLogger,
	)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.EchoZapLogger(zapLogger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Stripe-Signature"},
	}))
	httpHandler.RegisterRoutes(e)

	go func() {
		zapLogger.Info("HTTP сервер слушает", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown Echo", zap.Error(err))
	}
	zapLogger.Info("RPG Novel Server остановлен")
}

func setupVerifier(ctx context.Context, cfg *config.Config, app *firebase.App, logger *zap.Logger) (interfaces.TokenVerifier, error) {
	if cfg.AuthMode == config.AuthModeJWT {
		logger.Warn("AUTH_MODE=jwt: токены проверяются общим секретом, только для разработки")
		return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, logger)
	}
	return auth.NewFirebaseVerifier(ctx, app, logger)
}

// setupStorage выбирает хранилище историй и журнала монет по STORAGE_DRIVER.
func setupStorage(ctx context.Context, cfg *config.Config, app *firebase.App, logger *zap.Logger) (interfaces.StoryRepository, interfaces.CoinRepository, func(), error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		logger.Info("Подключение к PostgreSQL", zap.String("dsn", cfg.RedactedDSN()))
		pool, err := database.NewPool(ctx, database.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
			MaxConns: cfg.DBMaxConns,
			Timeout:  cfg.DBTimeout,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.DBMigrate {
			if err := database.NewMigrator(pool, logger).Up(ctx); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		}
		return database.NewPgStoryRepository(pool, logger), database.NewPgCoinRepository(pool, logger), pool.Close, nil

	case config.StorageFirestore:
		client, err := docstore.NewClient(ctx, app)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Ошибка закрытия Firestore client", zap.Error(err))
			}
		}
		return docstore.NewStoryRepository(client, logger), docstore.NewCoinRepository(client, logger), closeFn, nil

	case config.StorageMemory:
		logger.Warn("STORAGE_DRIVER=memory: данные не переживут перезапуск")
		return memstore.NewStoryRepository(logger), memstore.NewCoinRepository(logger), func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("неизвестный драйвер хранилища: %s", cfg.StorageDriver)
}

// setupPublisher подключает RabbitMQ, если он настроен. Иначе события только логируются.
func setupPublisher(cfg *config.Config, logger *zap.Logger) (interfaces.EventPublisher, func()) {
	if cfg.RabbitMQURL == "" {
		return messaging.NewLogPublisher(logger), func() {}
	}
	conn, err := messaging.Connect(cfg.RabbitMQURL, 5, 5*time.Second, logger)
	if err != nil {
		logger.Error("RabbitMQ недоступен, события будут только логироваться", zap.Error(err))
		return messaging.NewLogPublisher(logger), func() {}
	}
	publisher, err := messaging.NewRabbitMQPublisher(conn, cfg.EventsQueue, logger)
	if err != nil {
		_ = conn.Close()
		logger.Error("Не удалось создать RabbitMQ publisher", zap.Error(err))
		return messaging.NewLogPublisher(logger), func() {}
	}
	return publisher, func() {
		_ = publisher.Close()
		_ = conn.Close()
	}
}

// setupLocker выбирает распределенную блокировку на Redis или локальную.
func setupLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.StoryLocker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker(cfg.LockWait), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("Redis недоступен, используется локальная блокировка", zap.Error(err))
		_ = client.Close()
		return lock.NewLocalLocker(cfg.LockWait), func() {}
	}
	logger.Info("Успешное подключение к Redis", zap.String("addr", cfg.RedisAddr))
	locker := lock.NewRedisLocker(client, lock.Config{Expiry: cfg.LockExpiry, Wait: cfg.LockWait}, logger)
	return locker, func() { _ = client.Close() }
}
