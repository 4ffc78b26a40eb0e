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

// Package device attaches directly to a named virtual/loopback audio
// device through the OS hardware-abstraction layer and delivers its
// native-format frames from the real-time render callback.
package device

import (
	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// Info describes one capture-capable device as reported by the backend.
type Info struct {
	// ID is the opaque, platform-specific device identifier.
	ID string
	// Name is the human-readable device name.
	Name string
	// InputChannels is zero for output-only devices.
	InputChannels int
	// SampleRate is the device's native rate. Zero signals an
	// inactive or disconnected device.
	SampleRate float64
	// Format is the device's native sample representation.
	Format audio.SampleFormat
	// IsDefault marks the system default capture device.
	IsDefault bool
}

// DataCallback receives one raw native-format buffer per render cycle.
// It runs on the real-time audio thread and must not block.
type DataCallback func(frames []byte, frameCount uint32)

// Stream is an open capture stream on one device.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend provides an abstraction layer over the OS audio HAL. This
// enables dependency injection and makes testing hardware-independent.
type Backend interface {
	// Initialize the audio subsystem.
	Initialize() error

	// Terminate the audio subsystem.
	Terminate() error

	// Devices enumerates capture-visible devices.
	Devices() ([]Info, error)

	// OpenCapture opens a capture stream on the given device at the
	// requested format. The callback fires on the real-time thread.
	OpenCapture(info Info, cfg StreamConfig, cb DataCallback) (Stream, error)
}

// StreamConfig is the format a capture stream is opened at. It always
// mirrors the device's native format exactly: cross-format negotiation
// inside the low-level unit is unreliable, so resampling happens in an
// explicit converter afterward.
type StreamConfig struct {
	SampleRate   float64
	Channels     int
	Format       audio.SampleFormat
	PeriodFrames int
}
