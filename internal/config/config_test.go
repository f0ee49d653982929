package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, FetchStrategyZenRows, cfg.Fetch.Strategy)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Runner.MaxConcurrentRuns)
	assert.Equal(t, 6, cfg.AntiBlock.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.AntiBlock.WaitMin)
	assert.Equal(t, 30*time.Second, cfg.AntiBlock.WaitMax)
	assert.Equal(t, 1, cfg.Scheduler.HourUTC)
	assert.Equal(t, 0, cfg.Scheduler.MinuteUTC)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoad_PacingDependsOnStrategy(t *testing.T) {
	t.Run("zenrows is paced lightly", func(t *testing.T) {
		t.Setenv("FETCH_STRATEGY", FetchStrategyZenRows)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.Pacing.MinDelay)
		assert.Equal(t, 15*time.Second, cfg.Pacing.MaxDelay)
	})

	t.Run("session strategy paces like a person", func(t *testing.T) {
		t.Setenv("FETCH_STRATEGY", FetchStrategySession)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 45*time.Second, cfg.Pacing.MinDelay)
		assert.Equal(t, 120*time.Second, cfg.Pacing.MaxDelay)
	})

	t.Run("explicit bounds win", func(t *testing.T) {
		t.Setenv("FETCH_STRATEGY", FetchStrategySession)
		t.Setenv("MIN_DELAY", "2s")
		t.Setenv("MAX_DELAY", "4s")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Pacing.MinDelay)
		assert.Equal(t, 4*time.Second, cfg.Pacing.MaxDelay)
	})
}

func TestLoad_PlainIntegerDurationsAreSeconds(t *testing.T) {
	t.Setenv("ANTIBLOCK_WAIT_MIN", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.AntiBlock.WaitMin)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Fetch:     FetchConfig{Strategy: FetchStrategySession},
			Pacing:    PacingConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second},
			AntiBlock: AntiBlockConfig{WaitMin: time.Second, WaitMax: 2 * time.Second},
			Scheduler: SchedulerConfig{HourUTC: 1},
			Runner:    RunnerConfig{MaxConcurrentRuns: 1},
		}
	}

	t.Run("valid session config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("zenrows requires an api key", func(t *testing.T) {
		cfg := valid()
		cfg.Fetch.Strategy = FetchStrategyZenRows
		assert.Error(t, cfg.Validate())

		cfg.Fetch.ZenRowsAPIKey = "key"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := valid()
		cfg.Fetch.Strategy = "smoke-signals"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bounds", func(t *testing.T) {
		cfg := valid()
		cfg.Runner.MaxConcurrentRuns = 0
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.Pacing.MinDelay = 5 * time.Second
		cfg.Pacing.MaxDelay = time.Second
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.Scheduler.HourUTC = 24
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.Scheduler.MinuteUTC = 61
		assert.Error(t, cfg.Validate())
	})
}
