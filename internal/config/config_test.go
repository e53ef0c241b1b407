package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.InDelta(t, 0.30, cfg.WeightTechnical, 1e-9)
	assert.InDelta(t, 0.30, cfg.WeightAlignment, 1e-9)
	assert.InDelta(t, 0.25, cfg.WeightBehavior, 1e-9)
	assert.InDelta(t, 0.15, cfg.WeightContribution, 1e-9)
	assert.False(t, cfg.AllowStaleFallback)
	assert.Equal(t, 168*time.Hour, cfg.AppealWindow)
	assert.Equal(t, 100.0, cfg.InitialStake)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRUSTD_HTTP_ADDR", ":9090")
	t.Setenv("TRUSTD_ALLOW_STALE_FALLBACK", "true")
	t.Setenv("TRUSTD_METRICS_RETRIES", "5")
	t.Setenv("TRUSTD_RECOMPUTE_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.AllowStaleFallback)
	assert.Equal(t, 5, cfg.MetricsRetries)
	assert.Equal(t, time.Minute, cfg.RecomputeInterval)
}

func TestLoadRejectsBadWeightTable(t *testing.T) {
	t.Setenv("TRUSTD_WEIGHT_TECHNICAL", "0.50")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoadAcceptsAlternateValidWeights(t *testing.T) {
	t.Setenv("TRUSTD_WEIGHT_TECHNICAL", "0.25")
	t.Setenv("TRUSTD_WEIGHT_ALIGNMENT", "0.25")
	t.Setenv("TRUSTD_WEIGHT_BEHAVIOR", "0.25")
	t.Setenv("TRUSTD_WEIGHT_CONTRIBUTION", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.WeightTechnical, 1e-9)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("TRUSTD_METRICS_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.MetricsTimeout)
}

func TestLoadRejectsBadCacheSize(t *testing.T) {
	t.Setenv("TRUSTD_SCORE_CACHE_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
}
