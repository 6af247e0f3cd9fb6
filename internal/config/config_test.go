package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsAppliesOverrides(t *testing.T) {
	cfg, err := ParseFlags([]string{"--listen", "0.0.0.0:9000", "--verbose"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.True(t, cfg.Verbose)
}

func TestParseFlagsRejectsUnknownHardwareProfile(t *testing.T) {
	_, err := ParseFlags([]string{"--hardware-profile", "12-knob"})
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.validate())
}
