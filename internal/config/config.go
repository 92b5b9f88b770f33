package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`

	Checkout CheckoutConfig `envPrefix:"CHECKOUT_"`
	Postgres PostgresConfig `envPrefix:"DB_"`
	Mongo    MongoConfig    `envPrefix:"MONGO_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Payment  PaymentConfig  `envPrefix:"PAYMENT_"`
}

// CheckoutConfig drives the checkout controller. MobileMoneyRate is the fiat
// amount charged per satoshi on the mobile money rail.
type CheckoutConfig struct {
	PollInterval        time.Duration   `env:"POLL_INTERVAL" envDefault:"3s"`
	IntentTTL           time.Duration   `env:"INTENT_TTL" envDefault:"15m"`
	IntentAttempts      int             `env:"INTENT_CREATE_ATTEMPTS" envDefault:"3"`
	IntentRetryBackoff  time.Duration   `env:"INTENT_RETRY_BACKOFF" envDefault:"250ms"`
	CollaboratorTimeout time.Duration   `env:"COLLABORATOR_TIMEOUT" envDefault:"5s"`
	NetworkFeeSats      int64           `env:"NETWORK_FEE_SATS" envDefault:"10"`
	MobileMoneyRate     decimal.Decimal `env:"MOBILE_MONEY_SAT_RATE" envDefault:"0.08"`
	MobileMoneyFiat     string          `env:"MOBILE_MONEY_CURRENCY" envDefault:"KES"`
	SessionRetention    time.Duration   `env:"SESSION_RETENTION" envDefault:"30m"`
	JanitorInterval     time.Duration   `env:"JANITOR_INTERVAL" envDefault:"1m"`
	ClaimTTL            time.Duration   `env:"CLAIM_TTL" envDefault:"30m"`
	SubscriberBuffer    int             `env:"SUBSCRIBER_BUFFER" envDefault:"16"`
	StuckAfter          time.Duration   `env:"STUCK_AFTER" envDefault:"2m"`
}

type PostgresConfig struct {
	Host                 string `env:"HOST" envDefault:"localhost"`
	Port                 int    `env:"PORT" envDefault:"5432"`
	User                 string `env:"USER" envDefault:"postgres"`
	Password             string `env:"PASSWORD" envDefault:"postgres"`
	Name                 string `env:"NAME" envDefault:"bitmarket"`
	MigrationsPath       string `env:"MIGRATIONS_PATH" envDefault:"./internal/repository/migrations"`
	OrdersMigrationsPath string `env:"ORDERS_MIGRATIONS_PATH" envDefault:"./internal/orders/migrations"`
}

type MongoConfig struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"bitmarket"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"checkout-outbox"`
}

type PaymentConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8090"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	co := c.Checkout
	if co.PollInterval <= 0 {
		errs = append(errs, errors.New("CHECKOUT_POLL_INTERVAL must be positive"))
	}
	if co.IntentTTL <= co.PollInterval {
		errs = append(errs, errors.New("CHECKOUT_INTENT_TTL must exceed the poll interval"))
	}
	if co.IntentAttempts < 1 {
		errs = append(errs, errors.New("CHECKOUT_INTENT_CREATE_ATTEMPTS must be at least 1"))
	}
	if co.NetworkFeeSats < 0 {
		errs = append(errs, errors.New("CHECKOUT_NETWORK_FEE_SATS must not be negative"))
	}
	if !co.MobileMoneyRate.IsPositive() {
		errs = append(errs, errors.New("CHECKOUT_MOBILE_MONEY_SAT_RATE must be positive"))
	}
	if co.ClaimTTL < co.IntentTTL {
		errs = append(errs, errors.New("CHECKOUT_CLAIM_TTL must cover the intent TTL"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SimulatorConfig configures the local payment gateway stand-in.
type SimulatorConfig struct {
	HTTPPort         string        `env:"HTTP_PORT" envDefault:"8090"`
	APIKey           string        `env:"PAYMENT_API_KEY"`
	InvoiceTTL       time.Duration `env:"SIMULATOR_INVOICE_TTL" envDefault:"15m"`
	SettleAfterPolls int           `env:"SIMULATOR_SETTLE_AFTER_POLLS" envDefault:"3"`
	SuccessRate      float64       `env:"SIMULATOR_SUCCESS_RATE" envDefault:"1"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadSimulator() (*SimulatorConfig, error) {
	cfg := &SimulatorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse simulator config: %w", err)
	}
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		return nil, fmt.Errorf("SIMULATOR_SUCCESS_RATE must be within [0,1], got %v", cfg.SuccessRate)
	}
	return cfg, nil
}
