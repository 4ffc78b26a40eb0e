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

// Package config loads and validates the capture service configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	VAD     VADConfig     `yaml:"vad"`
	Capture CaptureConfig `yaml:"capture"`
	STT     STTConfig     `yaml:"stt"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DeviceConfig names the loopback device for the system-audio path.
type DeviceConfig struct {
	Identifier string `yaml:"identifier"`
}

// VADConfig contains voice activity gate tuning. Thresholds are RMS
// values in int16 sample units.
type VADConfig struct {
	StartThreshold  float64 `yaml:"start_threshold"`
	EndThreshold    float64 `yaml:"end_threshold"`
	HangoverMs      int     `yaml:"hangover_ms"`
	PreRollChunks   int     `yaml:"pre_roll_chunks"`
	SubsampleStride int     `yaml:"subsample_stride"`
}

// CaptureConfig contains orchestrator parameters.
type CaptureConfig struct {
	QueueDepth int    `yaml:"queue_depth"`
	DebounceMs int    `yaml:"debounce_ms"`
	Downmix    string `yaml:"downmix"` // "average" or "channel0"
}

// STTConfig contains the local transcription server connection.
type STTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// NATSConfig contains the NATS publisher sink settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig contains the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Identifier: "BlackHole 2ch",
		},
		VAD: VADConfig{
			StartThreshold:  185,
			EndThreshold:    100,
			HangoverMs:      500,
			PreRollChunks:   10,
			SubsampleStride: 10,
		},
		Capture: CaptureConfig{
			QueueDepth: 16,
			DebounceMs: 1000,
			Downmix:    "average",
		},
		STT: STTConfig{
			Enabled:  true,
			Endpoint: "ws://127.0.0.1:8765",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "murmur",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9109",
		},
	}
}

// Load reads and parses a configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}
	return nil
}

// Validate checks the device section.
func (d *DeviceConfig) Validate() error {
	if d.Identifier == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	return nil
}

// Validate checks the vad section.
func (v *VADConfig) Validate() error {
	if v.StartThreshold <= 0 {
		return fmt.Errorf("start_threshold must be positive, got %g", v.StartThreshold)
	}
	if v.EndThreshold <= 0 {
		return fmt.Errorf("end_threshold must be positive, got %g", v.EndThreshold)
	}
	if v.EndThreshold >= v.StartThreshold {
		return fmt.Errorf("end_threshold (%g) must sit below start_threshold (%g)",
			v.EndThreshold, v.StartThreshold)
	}
	if v.HangoverMs <= 0 {
		return fmt.Errorf("hangover_ms must be positive, got %d", v.HangoverMs)
	}
	if v.PreRollChunks < 0 {
		return fmt.Errorf("pre_roll_chunks must not be negative, got %d", v.PreRollChunks)
	}
	if v.SubsampleStride < 1 {
		return fmt.Errorf("subsample_stride must be at least 1, got %d", v.SubsampleStride)
	}
	return nil
}

// Validate checks the capture section.
func (c *CaptureConfig) Validate() error {
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be positive, got %d", c.QueueDepth)
	}
	if c.DebounceMs <= 0 {
		return fmt.Errorf("debounce_ms must be positive, got %d", c.DebounceMs)
	}
	switch c.Downmix {
	case "average", "channel0":
	default:
		return fmt.Errorf("downmix must be \"average\" or \"channel0\", got %q", c.Downmix)
	}
	return nil
}

// Validate checks the stt section.
func (s *STTConfig) Validate() error {
	if s.Enabled && s.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty when enabled")
	}
	return nil
}

// Validate checks the nats section.
func (n *NATSConfig) Validate() error {
	if n.Enabled && n.URL == "" {
		return fmt.Errorf("url must not be empty when enabled")
	}
	if n.Enabled && n.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix must not be empty when enabled")
	}
	return nil
}
