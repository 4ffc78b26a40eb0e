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

package capture

import (
	"github.com/murmurlabs/murmur-capture-go/internal/audio"
)

// EngineBackend provides an abstraction layer over the higher-level
// audio engine used for the microphone path. This enables dependency
// injection and makes testing hardware-independent.
type EngineBackend interface {
	// Initialize the audio engine.
	Initialize() error

	// Terminate the audio engine.
	Terminate() error

	// DefaultInputFormat reports the default input device's native
	// format. Re-derived on every start, never persisted.
	DefaultInputFormat() (audio.NativeFormat, error)

	// OpenInputStream opens a capture tap on the default input device.
	OpenInputStream(params StreamParams) (InputStream, error)
}

// StreamParams holds parameters for input stream creation.
type StreamParams struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	// VoiceProcessing enables the platform's echo-cancellation
	// chain. Capture always requests it off: echo cancellation can
	// suppress legitimate speech, and the gate needs the raw signal.
	VoiceProcessing bool
}

// InputStream abstracts a blocking-read microphone tap.
type InputStream interface {
	// Start the audio stream.
	Start() error

	// Stop the audio stream.
	Stop() error

	// Close the audio stream and release resources.
	Close() error

	// Read fills buf with the next buffer of interleaved float32
	// frames at the native rate, blocking until one is available.
	Read(buf []float32) error
}
