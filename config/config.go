// Package config loads server settings from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `env:"PORT, default=8080"`

	// DatabaseDSN is the SQLite data source for subscription records.
	DatabaseDSN string `env:"DATABASE_DSN, default=push.db"`

	// VAPID key source, first match wins: a Cloud KMS key version name, a
	// base64url raw private key, or a PEM file path (generated on first run
	// if the file does not exist). With none set, delivery is disabled and
	// dispatch degrades to a no-op.
	VAPIDKMSKey         string `env:"VAPID_KMS_KEY"`
	VAPIDPrivateKey     string `env:"VAPID_PRIVATE_KEY"`
	VAPIDPrivateKeyPath string `env:"VAPID_PRIVATE_KEY_PATH"`

	// VAPIDSubject identifies the application server to push services.
	VAPIDSubject string `env:"VAPID_SUBJECT, default=mailto:admin@fonzu.com"`

	// AdminToken is the bearer secret for the dispatch endpoint. Empty
	// disables the check (development only).
	AdminToken string `env:"ADMIN_TOKEN"`

	// FanoutWidth bounds concurrent deliveries per dispatch.
	FanoutWidth int `env:"FANOUT_WIDTH, default=16"`

	// DeliveryTimeout bounds each delivery attempt.
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT, default=10s"`

	// PushTTL is how long the push service may queue a message, in seconds.
	PushTTL int `env:"PUSH_TTL, default=3600"`
}

// Load reads the configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	return &cfg, nil
}
