package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesFor(t *testing.T) {
	caps, ok := CapabilitiesFor(Twitter)
	require.True(t, ok)
	assert.Equal(t, 280, caps.CharacterLimit)
	assert.True(t, caps.BatchMetrics)
	assert.Equal(t, 100, caps.MaxMetricsBatch)

	caps, ok = CapabilitiesFor(Facebook)
	require.True(t, ok)
	assert.False(t, caps.BatchMetrics)
	assert.Equal(t, 5, caps.MetricsCallCost)
	assert.True(t, caps.FollowerStats)

	_, ok = CapabilitiesFor(Name("myspace"))
	assert.False(t, ok)
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent(Twitter, "hello", 0, 0))
	assert.NoError(t, ValidateContent(Twitter, "hello", 4, 0))
	assert.NoError(t, ValidateContent(Linkedin, strings.Repeat("a", 3000), 9, 0))

	assert.Error(t, ValidateContent(Twitter, strings.Repeat("a", 281), 0, 0))
	assert.Error(t, ValidateContent(Twitter, "hello", 5, 0))
	assert.Error(t, ValidateContent(Twitter, "hello", 0, 2))
	assert.Error(t, ValidateContent(Twitter, "hello", 1, 1))
	assert.Error(t, ValidateContent(Name("myspace"), "hello", 0, 0))
}

func TestValidateContentCountsRunes(t *testing.T) {
	// 280 multibyte characters fit even though the byte length is larger.
	body := strings.Repeat("é", 280)
	assert.NoError(t, ValidateContent(Twitter, body, 0, 0))
}

func TestRegistry(t *testing.T) {
	cfg := testConfig()
	registry := NewRegistry(NewTwitter(cfg), NewLinkedin(cfg), NewFacebook(cfg))

	adapter, err := registry.Get(Twitter)
	require.NoError(t, err)
	assert.Equal(t, Twitter, adapter.Name())

	_, err = registry.Get(Name("myspace"))
	assert.Error(t, err)

	assert.Len(t, registry.Names(), 3)
}
