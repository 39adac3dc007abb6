package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rpg-novel-server/internal/utils"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища и режимы аутентификации
const (
	StorageMemory    = "memory"
	StoragePostgres  = "postgres"
	StorageFirestore = "firestore"

	AuthModeFirebase = "firebase"
	AuthModeJWT      = "jwt"
)

// Config содержит конфигурацию сервера
type Config struct {
	// Сервер
	Port            string        `envconfig:"SERVER_PORT" default:"8080"`
	Env             string        `envconfig:"ENV" default:"development"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding     string        `envconfig:"LOG_ENCODING" default:"json"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Хранилище
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`

	// PostgreSQL
	DBHost     string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string        `envconfig:"DB_PORT" default:"5432"`
	DBUser     string        `envconfig:"DB_USER" default:"postgres"`
	DBName     string        `envconfig:"DB_NAME" default:"rpg_novel"`
	DBSSLMode  string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int32         `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"10s"`
	DBMigrate  bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string `ignored:"true"`

	// Firebase / аутентификация
	AuthMode                string `envconfig:"AUTH_MODE" default:"firebase"`
	FirebaseProjectID       string `envconfig:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE"`
	JWTIssuer               string `envconfig:"JWT_ISSUER"`
	JWTSecret               string `ignored:"true"`

	// AI
	AIClientType  string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL     string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel       string        `envconfig:"AI_MODEL" default:"openai/gpt-4o-mini"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	AITemperature float64       `envconfig:"AI_TEMPERATURE" default:"0.8"`
	AIMaxTokens   int           `envconfig:"AI_MAX_TOKENS" default:"800"`
	AISiteURL     string        `envconfig:"AI_SITE_URL"`
	AISiteName    string        `envconfig:"AI_SITE_NAME" default:"RPG Novel"`
	AIInputPrice  float64       `envconfig:"AI_INPUT_PRICE_PER_MILLION" default:"0.15"`
	AIOutputPrice float64       `envconfig:"AI_OUTPUT_PRICE_PER_MILLION" default:"0.6"`
	AIAPIKey      string        `ignored:"true"`

	// Игровой процесс
	HistoryWindow int `envconfig:"HISTORY_WINDOW" default:"10"`
	MaxHealth     int `envconfig:"MAX_HEALTH" default:"100"`

	// Redis (блокировки историй) и RabbitMQ (события), оба опциональны
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	LockExpiry    time.Duration `envconfig:"STORY_LOCK_EXPIRY" default:"2m"`
	LockWait      time.Duration `envconfig:"STORY_LOCK_WAIT" default:"5s"`
	RabbitMQURL   string        `envconfig:"RABBITMQ_URL"`
	EventsQueue   string        `envconfig:"EVENTS_QUEUE" default:"story_events"`
	RedisPassword string        `ignored:"true"`

	// Монеты
	InitialBonus      int64 `envconfig:"COINS_INITIAL_BONUS" default:"50"`
	StoryCreationCost int64 `envconfig:"STORY_CREATION_COST" default:"5"`
	ContinuationCost  int64 `envconfig:"CONTINUATION_COST" default:"5"`

	// Stripe
	StripePublishableKey string `envconfig:"STRIPE_PUBLISHABLE_KEY"`
	StripeSuccessURL     string `envconfig:"STRIPE_SUCCESS_URL" default:"http://localhost:3000/payment/success?session_id={CHECKOUT_SESSION_ID}"`
	StripeCancelURL      string `envconfig:"STRIPE_CANCEL_URL" default:"http://localhost:3000/payment/cancel"`
	StripeSecretKey      string `ignored:"true"`
	StripeWebhookSecret  string `ignored:"true"`

	// PIX
	PixKey      string `envconfig:"PIX_KEY"`
	PixMerchant string `envconfig:"PIX_MERCHANT"`
	PixCity     string `envconfig:"PIX_CITY"`
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadSecrets читает секреты из /run/secrets с fallback на окружение.
// Обязательность зависит от выбранных драйверов.
func (c *Config) loadSecrets() error {
	optional := func(name, env string) string {
		v, err := utils.ReadSecretOrEnv(name, env)
		if err != nil {
			return ""
		}
		return v
	}

	c.AIAPIKey = optional("ai_api_key", "AI_API_KEY")
	c.StripeSecretKey = optional("stripe_secret_key", "STRIPE_SECRET_KEY")
	c.StripeWebhookSecret = optional("stripe_webhook_secret", "STRIPE_WEBHOOK_SECRET")
	c.RedisPassword = optional("redis_password", "REDIS_PASSWORD")

	var err error
	if c.StorageDriver == StoragePostgres {
		if c.DBPassword, err = utils.ReadSecretOrEnv("db_password", "DB_PASSWORD"); err != nil {
			return err
		}
	}
	if c.AuthMode == AuthModeJWT {
		if c.JWTSecret, err = utils.ReadSecretOrEnv("jwt_secret", "JWT_SECRET"); err != nil {
			return err
		}
	}
	return nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageMemory, StoragePostgres, StorageFirestore:
	default:
		errs = append(errs, fmt.Errorf("неизвестный STORAGE_DRIVER: %q", c.StorageDriver))
	}
	switch c.AuthMode {
	case AuthModeFirebase, AuthModeJWT:
	default:
		errs = append(errs, fmt.Errorf("неизвестный AUTH_MODE: %q", c.AuthMode))
	}
	if c.StorageDriver == StorageFirestore && c.AuthMode != AuthModeFirebase && c.FirebaseProjectID == "" {
		errs = append(errs, errors.New("для STORAGE_DRIVER=firestore нужен FIREBASE_PROJECT_ID"))
	}
	if c.InitialBonus < 0 || c.StoryCreationCost <= 0 || c.ContinuationCost <= 0 {
		errs = append(errs, errors.New("стоимость операций должна быть положительной, бонус - неотрицательным"))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW должен быть положительным"))
	}
	return errors.Join(errs...)
}

// PaymentsEnabled сообщает, настроен ли Stripe.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != ""
}

// RedactedDSN - строка подключения без пароля для логов.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%s/%s?sslmode=%s", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
