package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// DeliveryConfig tunes outbound Web Push requests.
type DeliveryConfig struct {
	Workers         int
	SendTimeout     time.Duration
	TTLSeconds      int
	Urgency         string
	OriginRateLimit float64
	OriginBurst     int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	IdentityServiceURL     string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	// BroadcastAdmins are the user URNs allowed to call the broadcast
	// endpoint. Empty admits every authenticated user.
	BroadcastAdmins []string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Delivery   DeliveryConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

const (
	defaultListenAddr     = ":8080"
	defaultIdentityURL    = "http://localhost:3000"
	defaultDeliveryWorker = 8
	defaultSendTimeout    = 10 * time.Second
	defaultTTLSeconds     = 86400
	defaultUrgency        = "high"
	defaultRedisTTL       = 24 * time.Hour
)

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// Delivery Overrides
	if val := os.Getenv("DELIVERY_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "DELIVERY_WORKERS", "source", "env")
			cfg.Delivery.Workers = workers
		}
	}
	if val := os.Getenv("DELIVERY_SEND_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_SEND_TIMEOUT %q: %w", val, err)
		}
		cfg.Delivery.SendTimeout = d
	}
	if val := os.Getenv("DELIVERY_TTL_SECONDS"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil && ttl > 0 {
			logger.Debug("Overriding config value", "key", "DELIVERY_TTL_SECONDS", "source", "env")
			cfg.Delivery.TTLSeconds = ttl
		}
	}
	if val := os.Getenv("DELIVERY_URGENCY"); val != "" {
		cfg.Delivery.Urgency = val
	}

	if val := os.Getenv("BROADCAST_ADMINS"); val != "" {
		logger.Debug("Overriding config value", "key", "BROADCAST_ADMINS", "source", "env")
		cfg.BroadcastAdmins = splitList(val)
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	switch cfg.Delivery.Urgency {
	case "":
		cfg.Delivery.Urgency = defaultUrgency
	case "very-low", "low", "normal", "high":
	default:
		return nil, fmt.Errorf("delivery urgency %q must be one of very-low, low, normal, high", cfg.Delivery.Urgency)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = defaultIdentityURL
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Delivery.Workers <= 0 {
		cfg.Delivery.Workers = defaultDeliveryWorker
	}
	if cfg.Delivery.SendTimeout <= 0 {
		cfg.Delivery.SendTimeout = defaultSendTimeout
	}
	if cfg.Delivery.TTLSeconds <= 0 {
		cfg.Delivery.TTLSeconds = defaultTTLSeconds
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaultRedisTTL
	}

	// Missing keys are not fatal: batches fail with ErrVapidKeyMissing.
	keysPresent := cfg.Vapid.PublicKey != "" && cfg.Vapid.PrivateKey != ""
	if !keysPresent {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	}
	if keysPresent || cfg.Vapid.SubscriberEmail != "" {
		subject, err := vapid.NormalizeSubject(cfg.Vapid.SubscriberEmail)
		if err != nil {
			return nil, fmt.Errorf("vapid subscriber_email (VAPID_SUB_EMAIL): %w", err)
		}
		cfg.Vapid.SubscriberEmail = subject
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
