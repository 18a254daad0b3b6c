// Package config provides configuration management for spinflow
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment variable, e.g. SPINFLOW_SERVER_PORT
const EnvPrefix = "SPINFLOW"

// Config holds all configuration for the engine service
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"DB"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	Backend  BackendConfig  `envconfig:"BACKEND"`
	Engine   EngineConfig   `envconfig:"ENGINE"`
	Log      LogConfig      `envconfig:"LOG"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// RenderAckTimeout bounds how long a remote renderer may take to
	// acknowledge a reel stop before the engine moves on
	RenderAckTimeout time.Duration `envconfig:"RENDER_ACK_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Driver  string `envconfig:"DRIVER" default:"postgres"`
	DSN     string `envconfig:"DSN" default:"host=localhost dbname=spinflow sslmode=disable"`
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	JWTSecret   string        `envconfig:"JWT_SECRET" default:"spinflow-dev-secret-change-in-production"`
	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"12h"`
	// OperatorKeyHash is the bcrypt hash of the operator key. Empty disables
	// the token endpoint.
	OperatorKeyHash string `envconfig:"OPERATOR_KEY_HASH"`
}

// BackendConfig holds the game backend client configuration
type BackendConfig struct {
	URL       string `envconfig:"URL" default:"http://localhost:9000"`
	APIKey    string `envconfig:"API_KEY"`
	APISecret string `envconfig:"API_SECRET"`
	// SessionToken identifies the player session on the backend
	SessionToken string        `envconfig:"SESSION_TOKEN"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"10s"`
	MaxRetries   int           `envconfig:"MAX_RETRIES" default:"0"`
	RetryDelay   time.Duration `envconfig:"RETRY_DELAY" default:"200ms"`
}

// EngineConfig holds orchestration timings and bet multipliers
type EngineConfig struct {
	ProfilePath           string        `envconfig:"PROFILE"`
	TurboFactor           float64       `envconfig:"TURBO_FACTOR" default:"0.5"`
	AutoplayDelay         time.Duration `envconfig:"AUTOPLAY_DELAY" default:"500ms"`
	AutoCloseDelay        time.Duration `envconfig:"AUTO_CLOSE_DELAY" default:"3s"`
	BonusTransitionDelay  time.Duration `envconfig:"BONUS_TRANSITION_DELAY" default:"2s"`
	FreeSpinDelay         time.Duration `envconfig:"FREE_SPIN_DELAY" default:"500ms"`
	EnhancedBetMultiplier float64       `envconfig:"ENHANCED_BET_MULTIPLIER" default:"1.25"`
	BuyFeatureMultiplier  float64       `envconfig:"BUY_FEATURE_MULTIPLIER" default:"100"`
	ReconcileSchedule     string        `envconfig:"RECONCILE_SCHEDULE" default:"@every 30s"`
	// Autoplay stop limits in currency units, zero disables
	AutoplayLossLimit float64 `envconfig:"AUTOPLAY_LOSS_LIMIT" default:"0"`
	AutoplayWinLimit  float64 `envconfig:"AUTOPLAY_WIN_LIMIT" default:"0"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

// Load reads envFile (a missing file is ignored), then the environment,
// then validates the result
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("SERVER_PORT must be set")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must be set")
	}
	if c.Auth.TokenExpiry <= 0 {
		return errors.New("AUTH_TOKEN_EXPIRY must be > 0")
	}
	if c.Backend.URL == "" {
		return errors.New("BACKEND_URL must be set")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("BACKEND_MAX_RETRIES must be >= 0")
	}
	e := c.Engine
	if e.TurboFactor <= 0 || e.TurboFactor > 1 {
		return fmt.Errorf("ENGINE_TURBO_FACTOR must be in (0, 1], got %v", e.TurboFactor)
	}
	if e.AutoplayDelay < 0 || e.AutoCloseDelay < 0 || e.BonusTransitionDelay < 0 || e.FreeSpinDelay < 0 {
		return errors.New("engine delays must be >= 0")
	}
	if e.EnhancedBetMultiplier < 1 {
		return fmt.Errorf("ENGINE_ENHANCED_BET_MULTIPLIER must be >= 1, got %v", e.EnhancedBetMultiplier)
	}
	if e.BuyFeatureMultiplier <= 0 {
		return fmt.Errorf("ENGINE_BUY_FEATURE_MULTIPLIER must be > 0, got %v", e.BuyFeatureMultiplier)
	}
	if e.AutoplayLossLimit < 0 || e.AutoplayWinLimit < 0 {
		return errors.New("autoplay limits must be >= 0")
	}
	if _, err := cron.ParseStandard(e.ReconcileSchedule); err != nil {
		return fmt.Errorf("invalid ENGINE_RECONCILE_SCHEDULE %q: %w", e.ReconcileSchedule, err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// EnhancedMultiplier returns the enhanced bet surcharge as a decimal
func (e EngineConfig) EnhancedMultiplier() decimal.Decimal {
	return decimal.NewFromFloat(e.EnhancedBetMultiplier)
}

// BuyMultiplier returns the buy feature price as a bet multiple
func (e EngineConfig) BuyMultiplier() decimal.Decimal {
	return decimal.NewFromFloat(e.BuyFeatureMultiplier)
}

// Apply configures the standard logrus logger
func (l LogConfig) Apply() error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if l.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
