/*
 * This file is part of Murmur (https://github.com/murmurlabs/murmur).
 * Copyright (C) 2025 Murmur Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "BlackHole 2ch", cfg.Device.Identifier)
	assert.Equal(t, float64(185), cfg.VAD.StartThreshold)
	assert.Equal(t, float64(100), cfg.VAD.EndThreshold)
	assert.Equal(t, 500, cfg.VAD.HangoverMs)
	assert.Equal(t, 10, cfg.VAD.PreRollChunks)
	assert.Equal(t, "average", cfg.Capture.Downmix)
	assert.True(t, cfg.STT.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  identifier: "Loopback Audio"
vad:
  start_threshold: 250
  end_threshold: 120
capture:
  downmix: channel0
nats:
  enabled: true
  url: "nats://nats.local:4222"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, "Loopback Audio", cfg.Device.Identifier)
	assert.Equal(t, float64(250), cfg.VAD.StartThreshold)
	assert.Equal(t, float64(120), cfg.VAD.EndThreshold)
	assert.Equal(t, "channel0", cfg.Capture.Downmix)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats.local:4222", cfg.NATS.URL)

	// Untouched sections keep their defaults.
	assert.Equal(t, 500, cfg.VAD.HangoverMs)
	assert.Equal(t, 16, cfg.Capture.QueueDepth)
	assert.Equal(t, "murmur", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "ws://127.0.0.1:8765", cfg.STT.Endpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "device: [not: a: mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device identifier", func(c *Config) { c.Device.Identifier = "" }},
		{"zero start threshold", func(c *Config) { c.VAD.StartThreshold = 0 }},
		{"zero end threshold", func(c *Config) { c.VAD.EndThreshold = 0 }},
		{"end threshold above start", func(c *Config) { c.VAD.EndThreshold = 200 }},
		{"end threshold equal to start", func(c *Config) { c.VAD.EndThreshold = c.VAD.StartThreshold }},
		{"zero hangover", func(c *Config) { c.VAD.HangoverMs = 0 }},
		{"negative pre-roll", func(c *Config) { c.VAD.PreRollChunks = -1 }},
		{"zero subsample stride", func(c *Config) { c.VAD.SubsampleStride = 0 }},
		{"zero queue depth", func(c *Config) { c.Capture.QueueDepth = 0 }},
		{"zero debounce", func(c *Config) { c.Capture.DebounceMs = 0 }},
		{"unknown downmix policy", func(c *Config) { c.Capture.Downmix = "loudest" }},
		{"stt enabled without endpoint", func(c *Config) { c.STT.Endpoint = "" }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"nats enabled without prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ZeroPreRollIsAllowed(t *testing.T) {
	cfg := Default()
	cfg.VAD.PreRollChunks = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
vad:
  end_threshold: 500
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end_threshold")
}
