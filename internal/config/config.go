// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability collaborators (all optional)
	NATSURL      string // audit fan-out for the analytics dashboard
	Neo4jURI     string // scam graph store
	Neo4jUser    string
	Neo4jPass    string
	Neo4jDB      string
	OTLPEndpoint string

	// Scoring oracles. Empty URL means the built-in local oracle is used.
	PhishingOracleURL string
	FraudOracleURL    string
	OracleTimeout     time.Duration

	// Channel transports
	GatewayURL        string // internet payment gateway endpoint
	SMSProviderURL    string // SMS provider endpoint (empty: simulated delivery)
	BluetoothAgentURL string // local BLE mesh agent endpoint (empty: channel unavailable)
	ProbeTimeout      time.Duration
	SendTimeout       time.Duration

	// Circuit breaker
	BreakerThreshold int
	BreakerOpenFor   time.Duration

	// Risk aggregation. Weights apply to the first three layers and should
	// sum to 1.0; the SMS weight blends the verification outcome into the
	// base aggregate when the ambiguous band is hit.
	WeightPhishing      float64
	WeightFraudAnomaly  float64
	WeightTrust         float64
	WeightSms           float64
	ApproveThreshold    float64 // aggregate <= this approves
	RejectThreshold     float64 // aggregate >= this rejects
	CriticalScore       float64 // single mandatory layer at or above this rejects outright
	SmsChallengeTimeout time.Duration

	// Trust profile decay
	TrustAlpha float64 // EWMA weight of the newest aggregate

	// Background work
	ReplayInterval  time.Duration
	AuditBufferSize int
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultOracleTimeout    = 2 * time.Second
	DefaultProbeTimeout     = 3 * time.Second
	DefaultSendTimeout      = 5 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenFor   = 30 * time.Second

	DefaultWeightPhishing     = 0.35
	DefaultWeightFraudAnomaly = 0.35
	DefaultWeightTrust        = 0.30
	DefaultWeightSms          = 0.50
	DefaultApproveThreshold   = 0.30
	DefaultRejectThreshold    = 0.70
	DefaultCriticalScore      = 0.90
	DefaultSmsChallenge       = 30 * time.Second

	DefaultTrustAlpha      = 0.20
	DefaultReplayInterval  = 30 * time.Second
	DefaultAuditBufferSize = 1024
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		NATSURL:      os.Getenv("NATS_URL"),
		Neo4jURI:     os.Getenv("NEO4J_URI"),
		Neo4jUser:    os.Getenv("NEO4J_USER"),
		Neo4jPass:    os.Getenv("NEO4J_PASSWORD"),
		Neo4jDB:      getEnv("NEO4J_DATABASE", "neo4j"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		PhishingOracleURL: os.Getenv("PHISHING_ORACLE_URL"),
		FraudOracleURL:    os.Getenv("FRAUD_ORACLE_URL"),
		OracleTimeout:     getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),

		GatewayURL:        os.Getenv("GATEWAY_URL"),
		SMSProviderURL:    os.Getenv("SMS_PROVIDER_URL"),
		BluetoothAgentURL: os.Getenv("BLUETOOTH_AGENT_URL"),
		ProbeTimeout:      getEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout),
		SendTimeout:       getEnvDuration("SEND_TIMEOUT", DefaultSendTimeout),

		BreakerThreshold: int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerOpenFor:   getEnvDuration("BREAKER_OPEN_FOR", DefaultBreakerOpenFor),

		WeightPhishing:      getEnvFloat("WEIGHT_PHISHING", DefaultWeightPhishing),
		WeightFraudAnomaly:  getEnvFloat("WEIGHT_FRAUD_ANOMALY", DefaultWeightFraudAnomaly),
		WeightTrust:         getEnvFloat("WEIGHT_TRUST", DefaultWeightTrust),
		WeightSms:           getEnvFloat("WEIGHT_SMS", DefaultWeightSms),
		ApproveThreshold:    getEnvFloat("APPROVE_THRESHOLD", DefaultApproveThreshold),
		RejectThreshold:     getEnvFloat("REJECT_THRESHOLD", DefaultRejectThreshold),
		CriticalScore:       getEnvFloat("CRITICAL_SCORE", DefaultCriticalScore),
		SmsChallengeTimeout: getEnvDuration("SMS_CHALLENGE_TIMEOUT", DefaultSmsChallenge),

		TrustAlpha: getEnvFloat("TRUST_ALPHA", DefaultTrustAlpha),

		ReplayInterval:  getEnvDuration("REPLAY_INTERVAL", DefaultReplayInterval),
		AuditBufferSize: int(getEnvInt64("AUDIT_BUFFER_SIZE", DefaultAuditBufferSize)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks threshold ordering and weight sanity.
func (c *Config) Validate() error {
	if c.ApproveThreshold >= c.RejectThreshold {
		return fmt.Errorf("APPROVE_THRESHOLD (%v) must be below REJECT_THRESHOLD (%v)",
			c.ApproveThreshold, c.RejectThreshold)
	}
	for name, v := range map[string]float64{
		"APPROVE_THRESHOLD": c.ApproveThreshold,
		"REJECT_THRESHOLD":  c.RejectThreshold,
		"CRITICAL_SCORE":    c.CriticalScore,
		"WEIGHT_SMS":        c.WeightSms,
		"TRUST_ALPHA":       c.TrustAlpha,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	sum := c.WeightPhishing + c.WeightFraudAnomaly + c.WeightTrust
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("layer weights must sum to 1.0, got %v", sum)
	}
	if c.AuditBufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
