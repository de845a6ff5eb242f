package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Reply modes for inbound message dispatch. Exactly one is active per
// deployment.
const (
	ReplyModeWebhook = "webhook"
	ReplyModeDirect  = "direct"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8081"`

	// Lifecycle manager
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`

	// Inbound reply pipeline
	ReplyMode    string `env:"REPLY_MODE" envDefault:"webhook"`
	WebhookURL   string `env:"REPLY_WEBHOOK_URL"`
	AssistantURL string `env:"ASSISTANT_URL"`

	// Outbound send throttle (messages per second, shared across tenants)
	SendRate  float64 `env:"SEND_RATE" envDefault:"1"`
	SendBurst int     `env:"SEND_BURST" envDefault:"3"`

	// Storage
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"wabridge"`
	SqlStorePath  string `env:"WHATSAPP_DB_PATH" envDefault:"whatsapp.db"`

	// AWS / DynamoDB
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// Load reads a local .env file if present, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg(".env file not found")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.ReplyMode != ReplyModeWebhook && cfg.ReplyMode != ReplyModeDirect {
		return nil, fmt.Errorf("invalid REPLY_MODE %q", cfg.ReplyMode)
	}
	if cfg.ReplyMode == ReplyModeWebhook && cfg.WebhookURL == "" {
		log.Warn().Msg("REPLY_WEBHOOK_URL not set, inbound messages will be dropped")
	}

	return &cfg, nil
}
