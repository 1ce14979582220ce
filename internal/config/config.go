// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	TokenEndpoint string
	TokenAPIKey   string
	AMQPURL       string
	EventExchange string

	Reconcile ReconcileConfig

	// SessionTTL controls how long an idle assistant session is kept
	// before the sweeper closes it.
	SessionTTL time.Duration
}

// ReconcileConfig tunes the transcript/transaction reconciliation engine.
type ReconcileConfig struct {
	// DebounceInterval is the inactivity window after which a buffered
	// interim transcript is committed as a fallback utterance.
	DebounceInterval time.Duration
	// CrossChannelWindow suppresses identical content arriving on a
	// second channel within this window.
	CrossChannelWindow time.Duration
	// RedeliveryWindow suppresses same-channel redelivery of identical
	// content within this window.
	RedeliveryWindow time.Duration
	// DefaultBankName fills the bank name on init events that omit it.
	DefaultBankName string
	// TransactionTTL expires transactions stuck in pending/processing.
	// Zero means records never expire.
	TransactionTTL time.Duration
	// ResumeOnReconnect keeps pending transactions across a transport
	// reconnect instead of starting fresh.
	ResumeOnReconnect bool
	// SubscriberQueueSize bounds the per-subscriber update queue.
	SubscriberQueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("SUBSCRIBER_QUEUE_SIZE", 64)
	if queueSize <= 0 {
		queueSize = 64
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/assist.db"),
		TokenEndpoint: getEnv("TOKEN_ENDPOINT", ""),
		TokenAPIKey:   getEnv("TOKEN_API_KEY", ""),
		AMQPURL:       getEnv("AMQP_URL", ""),
		EventExchange: getEnv("EVENT_EXCHANGE", "transactions"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 60*time.Minute),
		Reconcile: ReconcileConfig{
			DebounceInterval:    getEnvDuration("DEBOUNCE_INTERVAL", 1200*time.Millisecond),
			CrossChannelWindow:  getEnvDuration("CROSS_CHANNEL_WINDOW", 500*time.Millisecond),
			RedeliveryWindow:    getEnvDuration("REDELIVERY_WINDOW", 2000*time.Millisecond),
			DefaultBankName:     getEnv("DEFAULT_BANK_NAME", "PVcomBank"),
			TransactionTTL:      getEnvDuration("TRANSACTION_TTL", 0),
			ResumeOnReconnect:   getEnvBool("RESUME_TRANSACTIONS_ON_RECONNECT", false),
			SubscriberQueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Reconcile.DebounceInterval <= 0 {
		return fmt.Errorf("DEBOUNCE_INTERVAL must be > 0")
	}
	if c.Reconcile.CrossChannelWindow <= 0 {
		return fmt.Errorf("CROSS_CHANNEL_WINDOW must be > 0")
	}
	if c.Reconcile.RedeliveryWindow < c.Reconcile.CrossChannelWindow {
		return fmt.Errorf("REDELIVERY_WINDOW must be >= CROSS_CHANNEL_WINDOW")
	}
	if c.Reconcile.TransactionTTL < 0 {
		return fmt.Errorf("TRANSACTION_TTL cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
