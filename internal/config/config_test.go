package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexbotov/spinflow/internal/game"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, 0.5, cfg.Engine.TurboFactor)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.AutoplayDelay)
	assert.Equal(t, 3*time.Second, cfg.Engine.AutoCloseDelay)
	assert.Equal(t, "@every 30s", cfg.Engine.ReconcileSchedule)
	assert.True(t, cfg.Engine.EnhancedMultiplier().Equal(decimal.RequireFromString("1.25")))
	assert.True(t, cfg.Engine.BuyMultiplier().Equal(decimal.NewFromInt(100)))
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SPINFLOW_SERVER_PORT", "9090")
	t.Setenv("SPINFLOW_ENGINE_TURBO_FACTOR", "0.25")
	t.Setenv("SPINFLOW_ENGINE_AUTOPLAY_DELAY", "1s")
	t.Setenv("SPINFLOW_BACKEND_MAX_RETRIES", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 0.25, cfg.Engine.TurboFactor)
	assert.Equal(t, time.Second, cfg.Engine.AutoplayDelay)
	assert.Equal(t, 2, cfg.Backend.MaxRetries)
}

func TestLoadEnvFile(t *testing.T) {
	const key = "SPINFLOW_LOG_FORMAT"
	require.Empty(t, os.Getenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyPort", func(c *Config) { c.Server.Port = "" }},
		{"EmptySecret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"TurboFactorZero", func(c *Config) { c.Engine.TurboFactor = 0 }},
		{"TurboFactorAboveOne", func(c *Config) { c.Engine.TurboFactor = 1.5 }},
		{"NegativeDelay", func(c *Config) { c.Engine.AutoplayDelay = -time.Second }},
		{"EnhancedBelowOne", func(c *Config) { c.Engine.EnhancedBetMultiplier = 0.9 }},
		{"BadCron", func(c *Config) { c.Engine.ReconcileSchedule = "every so often" }},
		{"BadLogLevel", func(c *Config) { c.Log.Level = "loud" }},
		{"BadLogFormat", func(c *Config) { c.Log.Format = "xml" }},
		{"NegativeRetries", func(c *Config) { c.Backend.MaxRetries = -1 }},
		{"NegativeLossLimit", func(c *Config) { c.Engine.AutoplayLossLimit = -10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogApply(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	require.NoError(t, LogConfig{Level: "debug", Format: "json"}.Apply())
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	assert.Error(t, LogConfig{Level: "nope"}.Apply())
}

func TestLoadProfile(t *testing.T) {
	t.Run("EmptyPathIsDefault", func(t *testing.T) {
		p, err := LoadProfile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultProfile(), p)
		require.NoError(t, p.Validate())
	})

	t.Run("PartialFileKeepsDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "game.yaml")
		body := "name: fruit\ndefault_bet: 2\nbet_levels: [1, 2, 4]\nreels:\n  spin: 800ms\n  stop: 200ms\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		p, err := LoadProfile(path)
		require.NoError(t, err)
		assert.Equal(t, "fruit", p.Name)
		assert.Equal(t, 5, p.Grid.Rows)
		assert.Equal(t, 800*time.Millisecond, p.Reels.Spin)

		bet, levels := p.Bets()
		assert.True(t, bet.Equal(decimal.NewFromInt(2)))
		assert.Len(t, levels, 3)
	})

	t.Run("TiersMustAscend", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "game.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tiers:\n  big: 50\n  mega: 30\n  epic: 45\n  super: 60\n"), 0o600))

		_, err := LoadProfile(path)
		assert.ErrorIs(t, err, game.ErrInvalidThresholds)
	})

	t.Run("DefaultBetNotALevel", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "game.yaml")
		require.NoError(t, os.WriteFile(path, []byte("default_bet: 3\n"), 0o600))

		_, err := LoadProfile(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("ShippedProfiles", func(t *testing.T) {
		for _, name := range []string{"sweet-cascade.yaml", "fruit-storm.yaml"} {
			p, err := LoadProfile(filepath.Join("..", "..", "profiles", name))
			require.NoError(t, err, name)

			ev, err := game.NewEvaluator(p.Thresholds())
			require.NoError(t, err)
			assert.Equal(t, game.TierBig, ev.Tier(decimal.NewFromInt(25), decimal.NewFromInt(1)))
		}
	})
}

func TestProfileLayout(t *testing.T) {
	l := DefaultProfile().Layout()
	assert.Equal(t, 5, l.Rows)
	assert.Equal(t, 6, l.Cols)
	assert.Equal(t, 10, l.Scatter)
	assert.Equal(t, 8, l.MinCluster)
}
