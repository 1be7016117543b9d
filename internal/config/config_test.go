package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, 9*time.Second, cfg.SegmentTimeout)
	assert.Equal(t, "anthropic", cfg.ModelProvider)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("ENGINE_HTTP_ADDR", ":9999")
	t.Setenv("SEGMENT_TIMEOUT", "3s")
	t.Setenv("REPLANNER_MODEL_PROVIDER", "bedrock")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.SegmentTimeout)
	assert.Equal(t, "bedrock", cfg.ModelProvider)
}

func TestLoadFailoverPolicyYAML_DisabledWhenUnset(t *testing.T) {
	_, ok, err := LoadFailoverPolicyYAML(Config{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadFailoverPolicyYAML_ReadsFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "policy-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("policies: []\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, ok, err := LoadFailoverPolicyYAML(Config{FailoverPolicyPath: f.Name()})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, string(data), "policies")
}

func TestLoadFailoverPolicyYAML_RejectsInvalidYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "policy-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("not: [valid\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = LoadFailoverPolicyYAML(Config{FailoverPolicyPath: f.Name()})
	assert.Error(t, err)
}
