package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvProduction is the APP_ENV value of production deployments.
const EnvProduction = "production"

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Kafka    KafkaConfig
	Fees     FeeSchedule
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env             string
	DefaultCurrency string
}

// IsProduction reports whether the service runs in production.
func (c AppConfig) IsProduction() bool {
	return c.Env == EnvProduction
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// GatewayConfig holds the payment gateway connection settings.
type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

// WebhookConfig holds webhook authentication settings.
type WebhookConfig struct {
	Secret          string
	SignatureHeader string
	AllowUnsigned   bool
	DedupeTTL       time.Duration
}

// KafkaConfig holds the settings of the notification event publisher.
// An empty broker list disables Kafka and events are only logged.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Enabled reports whether at least one broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// DurationTier is the fee percentage applied up to a number of months.
// A tier with MaxMonths 0 matches every longer duration.
type DurationTier struct {
	MaxMonths int             `yaml:"max_months"`
	Percent   decimal.Decimal `yaml:"percent"`
}

// FeeSchedule holds the platform fee policy. Amounts are in minor units,
// percentages are whole percent (2 means 2%).
type FeeSchedule struct {
	CreationBasePercent decimal.Decimal `yaml:"creation_base_percent"`
	DurationTiers       []DurationTier  `yaml:"duration_tiers"`
	CreationMinFee      int64           `yaml:"creation_min_fee"`
	CreationMaxFee      int64           `yaml:"creation_max_fee"`
	ContributionPercent decimal.Decimal `yaml:"contribution_percent"`
	ContributionMinFee  int64           `yaml:"contribution_min_fee"`
	ContributionMaxFee  int64           `yaml:"contribution_max_fee"`
	MinAmount           int64           `yaml:"min_amount"`
	MaxAmount           int64           `yaml:"max_amount"`
}

// DefaultFeeSchedule returns the NGN fee policy in kobo.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		CreationBasePercent: decimal.NewFromInt(2),
		DurationTiers: []DurationTier{
			{MaxMonths: 1, Percent: decimal.RequireFromString("0.2")},
			{MaxMonths: 3, Percent: decimal.RequireFromString("0.5")},
			{MaxMonths: 6, Percent: decimal.RequireFromString("1.0")},
			{MaxMonths: 12, Percent: decimal.RequireFromString("1.5")},
			{MaxMonths: 0, Percent: decimal.RequireFromString("2.0")},
		},
		CreationMinFee:      50_000,
		CreationMaxFee:      500_000,
		ContributionPercent: decimal.RequireFromString("1.5"),
		ContributionMinFee:  10_000,
		ContributionMaxFee:  200_000,
		MinAmount:           100_000,
		MaxAmount:           1_000_000_000,
	}
}

// Validate checks that the schedule is usable.
func (f FeeSchedule) Validate() error {
	if f.MinAmount <= 0 || f.MaxAmount < f.MinAmount {
		return fmt.Errorf("invalid amount bounds [%d, %d]", f.MinAmount, f.MaxAmount)
	}
	if f.CreationMinFee < 0 || f.CreationMaxFee < f.CreationMinFee {
		return fmt.Errorf("invalid creation fee bounds [%d, %d]", f.CreationMinFee, f.CreationMaxFee)
	}
	if f.ContributionMinFee < 0 || f.ContributionMaxFee < f.ContributionMinFee {
		return fmt.Errorf("invalid contribution fee bounds [%d, %d]", f.ContributionMinFee, f.ContributionMaxFee)
	}
	if len(f.DurationTiers) == 0 {
		return fmt.Errorf("at least one duration tier is required")
	}
	if f.DurationTiers[len(f.DurationTiers)-1].MaxMonths != 0 {
		return fmt.Errorf("last duration tier must be open-ended (max_months: 0)")
	}
	return nil
}

// LoadFeeSchedule reads a YAML fee schedule. Fields absent from the file keep
// their default value.
func LoadFeeSchedule(path string) (FeeSchedule, error) {
	schedule := DefaultFeeSchedule()

	data, err := os.ReadFile(path)
	if err != nil {
		return schedule, fmt.Errorf("read fee schedule: %w", err)
	}
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return schedule, fmt.Errorf("parse fee schedule: %w", err)
	}
	if err := schedule.Validate(); err != nil {
		return schedule, fmt.Errorf("fee schedule %s: %w", path, err)
	}
	return schedule, nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:             getEnv("APP_ENV", "development"),
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "NGN"),
		},
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "savings"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "savings-payments"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Gateway: GatewayConfig{
			BaseURL:     getEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
			SecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
			CallbackURL: getEnv("GATEWAY_CALLBACK_URL", ""),
			Timeout:     getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Webhook: WebhookConfig{
			Secret:          getEnv("WEBHOOK_SECRET", ""),
			SignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Gateway-Signature"),
			AllowUnsigned:   getBoolEnv("WEBHOOK_ALLOW_UNSIGNED", false),
			DedupeTTL:       getDurationEnv("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:  getListEnv("KAFKA_BROKERS"),
			Topic:    getEnv("KAFKA_TOPIC", "savings.payment-events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "savings-payments"),
		},
		Fees: DefaultFeeSchedule(),
	}

	if path := os.Getenv("FEE_SCHEDULE_PATH"); path != "" {
		schedule, err := LoadFeeSchedule(path)
		if err != nil {
			return nil, err
		}
		cfg.Fees = schedule
	}

	// Unsigned webhooks are a local development convenience only.
	if cfg.App.IsProduction() {
		cfg.Webhook.AllowUnsigned = false
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
