package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Брокеры для outbox.
const (
	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Переменные окружения.
const (
	EnvHTTPAddr                    = "SHOP_HTTP_ADDR"
	EnvGRPCAddr                    = "SHOP_GRPC_ADDR"
	EnvMetricsAddr                 = "SHOP_METRICS_ADDR"
	EnvLogLevel                    = "SHOP_LOG_LEVEL"
	EnvStorageDriver               = "SHOP_STORAGE_DRIVER"
	EnvPostgresDSN                 = "SHOP_POSTGRES_DSN"
	EnvPostgresAutoMigrate         = "SHOP_POSTGRES_AUTO_MIGRATE"
	EnvBroker                      = "SHOP_BROKER"
	EnvKafkaBrokers                = "SHOP_KAFKA_BROKERS"
	EnvKafkaTopic                  = "SHOP_KAFKA_TOPIC"
	EnvKafkaDLQTopic               = "SHOP_KAFKA_DLQ_TOPIC"
	EnvRabbitURL                   = "SHOP_RABBITMQ_URL"
	EnvRabbitExchange              = "SHOP_RABBITMQ_EXCHANGE"
	EnvOutboxPollInterval          = "SHOP_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize             = "SHOP_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts           = "SHOP_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay            = "SHOP_OUTBOX_RETRY_DELAY"
	EnvOutboxMaxPending            = "SHOP_OUTBOX_MAX_PENDING"
	EnvIdempotencyTTL              = "SHOP_IDEMPOTENCY_TTL"
	EnvIdempotencyCleanupInterval  = "SHOP_IDEMPOTENCY_CLEANUP_INTERVAL"
	EnvIdempotencyCleanupBatchSize = "SHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	EnvStripeSecretKey             = "SHOP_STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret         = "SHOP_STRIPE_WEBHOOK_SECRET"
	EnvPayPalBusiness              = "SHOP_PAYPAL_BUSINESS"
	EnvPayPalBaseURL               = "SHOP_PAYPAL_BASE_URL"
	EnvPayPalTokenSecret           = "SHOP_PAYPAL_TOKEN_SECRET"
	EnvPayPalPDTToken              = "SHOP_PAYPAL_PDT_TOKEN"
	EnvShopOrigin                  = "SHOP_PUBLIC_ORIGIN"
	EnvShippingPolicy              = "SHOP_SHIPPING_POLICY"
	EnvCurrency                    = "SHOP_CURRENCY"
	EnvSessionTTL                  = "SHOP_SESSION_TTL"
	EnvSecureCookies               = "SHOP_SECURE_COOKIES"
	EnvCatalogPath                 = "SHOP_CATALOG_PATH"
)

// fileSuffix: SHOP_STRIPE_SECRET_KEY_FILE читается вместо SHOP_STRIPE_SECRET_KEY.
const fileSuffix = "_FILE"

// Config — настройки запуска магазина.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	Broker         string
	KafkaBrokers   string
	KafkaTopic     string
	KafkaDLQTopic  string
	RabbitURL      string
	RabbitExchange string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — backlog, выше которого брокер считается degraded.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	StripeSecretKey     string
	StripeWebhookSecret string
	PayPalBusiness      string
	PayPalBaseURL       string
	PayPalTokenSecret   string
	// PayPalPDTToken — identity token PDT. Без него PayPal-оплата подтверждается только IPN.
	PayPalPDTToken string

	ShopOrigin     string
	ShippingPolicy string
	Currency       string
	SessionTTL     time.Duration
	SecureCookies  bool
	CatalogPath    string
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		Broker:        BrokerNone,
		KafkaTopic:    "shop.order.events",
		KafkaDLQTopic: "shop.order.events.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShopOrigin:     "https://charlesmackaybooks.com",
		ShippingPolicy: "free",
		Currency:       "GBP",
		SessionTTL:     2 * time.Hour,
		SecureCookies:  true,
	}
}

// EnvLookup совпадает по сигнатуре с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию, а ошибка
// попадает в warnings.
func LoadConfigFromEnv(lookup EnvLookup) (Config, []error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	var warnings []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	secret := func(key string, dst *string) {
		if path, ok := lookup(key + fileSuffix); ok && strings.TrimSpace(path) != "" {
			data, err := os.ReadFile(strings.TrimSpace(path))
			if err != nil {
				warnings = append(warnings, fmt.Errorf("%s: %w", key+fileSuffix, err))
				return
			}
			*dst = strings.TrimSpace(string(data))
			return
		}
		str(key, dst)
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvLogLevel, &cfg.LogLevel)

	str(EnvStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	secret(EnvPostgresDSN, &cfg.PostgresDSN)
	boolean(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(EnvBroker, &cfg.Broker)
	cfg.Broker = strings.ToLower(cfg.Broker)
	str(EnvKafkaBrokers, &cfg.KafkaBrokers)
	str(EnvKafkaTopic, &cfg.KafkaTopic)
	str(EnvKafkaDLQTopic, &cfg.KafkaDLQTopic)
	secret(EnvRabbitURL, &cfg.RabbitURL)
	str(EnvRabbitExchange, &cfg.RabbitExchange)

	duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(EnvOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")
	integer(EnvOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	duration(EnvIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(EnvIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(EnvIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	secret(EnvStripeSecretKey, &cfg.StripeSecretKey)
	secret(EnvStripeWebhookSecret, &cfg.StripeWebhookSecret)
	str(EnvPayPalBusiness, &cfg.PayPalBusiness)
	str(EnvPayPalBaseURL, &cfg.PayPalBaseURL)
	secret(EnvPayPalTokenSecret, &cfg.PayPalTokenSecret)
	secret(EnvPayPalPDTToken, &cfg.PayPalPDTToken)

	str(EnvShopOrigin, &cfg.ShopOrigin)
	str(EnvShippingPolicy, &cfg.ShippingPolicy)
	str(EnvCurrency, &cfg.Currency)
	cfg.Currency = strings.ToUpper(cfg.Currency)
	duration(EnvSessionTTL, &cfg.SessionTTL, positiveDur, "must be > 0")
	boolean(EnvSecureCookies, &cfg.SecureCookies)
	str(EnvCatalogPath, &cfg.CatalogPath)

	return cfg, warnings
}

// Validate проверяет сочетания настроек, без которых сервис не стартует.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.Broker {
	case "", BrokerNone:
	case BrokerKafka:
		if strings.TrimSpace(c.KafkaBrokers) == "" {
			errs = append(errs, fmt.Errorf("%s is required for kafka broker", EnvKafkaBrokers))
		}
	case BrokerRabbitMQ:
		if strings.TrimSpace(c.RabbitURL) == "" {
			errs = append(errs, fmt.Errorf("%s is required for rabbitmq broker", EnvRabbitURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported broker %q", c.Broker))
	}

	if c.PayPalBusiness != "" && strings.TrimSpace(c.PayPalTokenSecret) == "" {
		errs = append(errs, fmt.Errorf("%s is required when PayPal is enabled", EnvPayPalTokenSecret))
	}
	if strings.TrimSpace(c.ShopOrigin) == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvShopOrigin))
	}
	return errors.Join(errs...)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid value %d: %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid duration %s: %s", value, rule)
	}
	return value, nil
}
