package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ms-ticket-market/internal/models"

	"github.com/shopspring/decimal"
)

type Config struct {
	Catalog  CatalogConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	QR       QRConfig
	LogDir   string
	LogLevel string
}

// CatalogConfig is fixed for the lifetime of a deployment.
type CatalogConfig struct {
	Name                     string
	Symbol                   string
	StartDatetime            int64
	TotalSupply              int64
	InitialPrice             decimal.Decimal
	MaxPriceFactorPercentage int64
	FeePercentage            int64
	Operator                 string
	EnforceStart             bool
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr           string
	IdempotencyTTL time.Duration
	Enabled        bool
}

type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	TicketEvents string
	Enabled      bool
}

type AuthConfig struct {
	OIDCIssuer string
	Disabled   bool
}

type QRConfig struct {
	SecretKey string
	TTL       time.Duration
}

func Load() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Name:                     getEnv("CATALOG_NAME", "0.01 MATIC Game"),
			Symbol:                   getEnv("CATALOG_SYMBOL", "PNT01MATIC"),
			StartDatetime:            getEnvInt64("CATALOG_START_DATETIME", time.Now().Unix()),
			TotalSupply:              getEnvInt64("CATALOG_TOTAL_SUPPLY", 0),
			InitialPrice:             getEnvDecimal("CATALOG_INITIAL_PRICE", decimal.NewFromInt(10000000000000000)),
			MaxPriceFactorPercentage: getEnvInt64("CATALOG_MAX_PRICE_FACTOR_PERCENTAGE", 0),
			FeePercentage:            getEnvInt64("CATALOG_FEE_PERCENTAGE", 50),
			Operator:                 getEnv("CATALOG_OPERATOR", ""),
			EnforceStart:             getEnvBool("CATALOG_ENFORCE_START", false),
		},
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "sqlite"),
			DSN:    getEnv("DATABASE_DSN", "file:market.db?cache=shared"),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			IdempotencyTTL: time.Duration(getEnvInt64("IDEMPOTENCY_TTL_MINUTES", 60)) * time.Minute,
			Enabled:        getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID:      getEnv("KAFKA_GROUP_ID", "ticket-market-group"),
			TicketEvents: getEnv("KAFKA_TOPIC_TICKET_EVENTS", "ticketmarket.tickets.events"),
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			Disabled:   getEnvBool("AUTH_DISABLED", false),
		},
		QR: QRConfig{
			SecretKey: getEnv("QR_SECRET_KEY", ""),
			TTL:       time.Duration(getEnvInt64("QR_TTL_MINUTES", 15)) * time.Minute,
		},
		LogDir:   getEnv("LOG_DIR", "logs"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the catalog settings that cannot be corrected at runtime.
func (c *Config) Validate() error {
	cat := c.Catalog
	if cat.Operator == "" {
		return errors.New("CATALOG_OPERATOR is required")
	}
	if cat.FeePercentage < 0 || cat.FeePercentage > 100 {
		return fmt.Errorf("fee percentage %d out of range 0-100", cat.FeePercentage)
	}
	if cat.TotalSupply < 0 {
		return fmt.Errorf("total supply %d is negative", cat.TotalSupply)
	}
	if cat.Operator == models.EscrowAccount {
		return fmt.Errorf("CATALOG_OPERATOR cannot be the %q custody account", models.EscrowAccount)
	}
	if f := cat.MaxPriceFactorPercentage; f < 0 || (f > 0 && f < 100) {
		return fmt.Errorf("max price factor %d must be 0 (no ceiling) or at least 100", f)
	}
	if cat.InitialPrice.IsNegative() || !cat.InitialPrice.IsInteger() {
		return fmt.Errorf("initial price %s must be a non-negative integer", cat.InitialPrice)
	}
	if c.QR.SecretKey == "" {
		return errors.New("QR_SECRET_KEY is required")
	}
	if !c.Auth.Disabled && c.Auth.OIDCIssuer == "" {
		return errors.New("OIDC_ISSUER is required unless AUTH_DISABLED is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
