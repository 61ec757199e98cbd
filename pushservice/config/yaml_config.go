package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlDeliveryConfig struct {
	Workers         int     `yaml:"workers"`
	SendTimeout     string  `yaml:"send_timeout"`
	TTLSeconds      int     `yaml:"ttl_seconds"`
	Urgency         string  `yaml:"urgency"`
	OriginRateLimit float64 `yaml:"origin_rate_limit"`
	OriginBurst     int     `yaml:"origin_burst"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	IdentityServiceURL     string             `yaml:"identity_service_url"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	DeliveryConfig         YamlDeliveryConfig `yaml:"delivery"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	BroadcastAdmins        []string           `yaml:"broadcast_admins"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	sendTimeout, err := parseOptionalDuration(baseCfg.DeliveryConfig.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("delivery.send_timeout: %w", err)
	}
	redisTTL, err := parseOptionalDuration(baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, fmt.Errorf("redis.ttl: %w", err)
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      redisTTL,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Delivery: DeliveryConfig{
			Workers:         baseCfg.DeliveryConfig.Workers,
			SendTimeout:     sendTimeout,
			TTLSeconds:      baseCfg.DeliveryConfig.TTLSeconds,
			Urgency:         baseCfg.DeliveryConfig.Urgency,
			OriginRateLimit: baseCfg.DeliveryConfig.OriginRateLimit,
			OriginBurst:     baseCfg.DeliveryConfig.OriginBurst,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		BroadcastAdmins:        baseCfg.BroadcastAdmins,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"delivery_workers", cfg.Delivery.Workers,
	)

	return cfg, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
