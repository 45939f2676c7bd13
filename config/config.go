package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"bookswap-service"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8082"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string `envconfig:"LOG_FILE"`

	DB       Database
	Redis    Redis
	Kafka    Kafka
	Payment  Payment
	Auth     Auth
	Tracing  Tracing
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"2m"`
}

type Database struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            string        `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"postgres"`
	Password        string        `envconfig:"DB_PASSWORD" default:"postgres"`
	Name            string        `envconfig:"DB_NAME" default:"bookswapdb"`
	SSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"1m"`
}

func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL is the form golang-migrate expects.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Redis struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (r Redis) Addr() string { return r.Host + ":" + r.Port }

type Kafka struct {
	Brokers            []string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	OrderEventsTopic   string   `envconfig:"ORDER_EVENTS_TOPIC" default:"order_events"`
	PaymentEventsTopic string   `envconfig:"PAYMENT_EVENTS_TOPIC" default:"payment_events"`
	ConsumerGroup      string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"bookswap-orders"`
	Enabled            bool     `envconfig:"KAFKA_ENABLED" default:"true"`
}

type Payment struct {
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string        `envconfig:"PAYMENT_CURRENCY" default:"usd"`
	Timeout             time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
	SuccessURL          string        `envconfig:"PAYMENT_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL           string        `envconfig:"PAYMENT_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	BreakerMaxFailures  int           `envconfig:"PAYMENT_BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"PAYMENT_BREAKER_RESET" default:"30s"`
}

type Auth struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

type Tracing struct {
	Enabled           bool   `envconfig:"TRACING_ENABLED" default:"true"`
	CollectorEndpoint string `envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKER required when Kafka is enabled")
	}
	return nil
}
